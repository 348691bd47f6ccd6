// Package prekeys manages signed prekey records per identity scope:
// generation, persistence, rotation bookkeeping, and culling of
// superseded records after a successful upload.
package prekeys

import (
	"context"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kestrelchat/kestrel/internal/ident"
	"github.com/kestrelchat/kestrel/internal/request"
	"github.com/kestrelchat/kestrel/internal/storage"
)

// ErrInvalidIdentity reports an unknown identity scope.
var ErrInvalidIdentity = errors.New("prekeys: invalid identity type")

// Signed prekey ids live in the 24-bit space the wire format allows.
const maxKeyID = 1 << 24

// Record is a signed prekey with its private half. The public key is an
// X25519 point signed by the account's ed25519 identity key.
type Record struct {
	Identity   ident.IdentityType
	KeyID      uint32
	PublicKey  []byte
	PrivateKey []byte
	Signature  []byte
	CreatedAt  time.Time
}

// Upload converts the record to its registration wire form.
func (r Record) Upload() request.SignedPreKeyUpload {
	return request.SignedPreKeyUpload{
		ID:        int(r.KeyID),
		PublicKey: r.PublicKey,
		Signature: r.Signature,
	}
}

// Repository persists signed prekey records.
type Repository interface {
	// Store saves a record; replaces an existing record with the same
	// identity and key id.
	Store(ctx context.Context, tx storage.WriteTx, r Record) error
	// Load returns a record, or storage.ErrNotFound.
	Load(ctx context.Context, tx storage.ReadTx, identity ident.IdentityType, keyID uint32) (Record, error)
	// Current returns the newest record for the identity, or
	// storage.ErrNotFound.
	Current(ctx context.Context, tx storage.ReadTx, identity ident.IdentityType) (Record, error)
	// Remove deletes a record; removing a missing record is a no-op.
	Remove(ctx context.Context, tx storage.WriteTx, identity ident.IdentityType, keyID uint32) error
	// Cull deletes every record for the identity except keepID.
	Cull(ctx context.Context, tx storage.WriteTx, identity ident.IdentityType, keepID uint32) (int, error)
	// SetLastRotation records when the identity's prekey last rotated.
	SetLastRotation(ctx context.Context, tx storage.WriteTx, identity ident.IdentityType, at time.Time) error
	// LastRotation returns the zero time when no rotation is recorded.
	LastRotation(ctx context.Context, tx storage.ReadTx, identity ident.IdentityType) (time.Time, error)
}

// Store generates and manages signed prekeys on top of a Repository.
type Store struct {
	repo Repository
	log  *logrus.Entry
}

// NewStore wires a prekey store.
func NewStore(repo Repository) *Store {
	return &Store{
		repo: repo,
		log:  logrus.WithField("component", "prekeys"),
	}
}

// GenerateRecord creates a fresh signed prekey for the identity, signed
// with the account identity key. The record is not persisted.
func (s *Store) GenerateRecord(identity ident.IdentityType, signingKey ed25519.PrivateKey) (Record, error) {
	if !identity.Valid() {
		return Record{}, ErrInvalidIdentity
	}
	if len(signingKey) != ed25519.PrivateKeySize {
		return Record{}, fmt.Errorf("prekeys: signing key must be %d bytes", ed25519.PrivateKeySize)
	}

	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return Record{}, fmt.Errorf("generate prekey: %w", err)
	}
	keyID, err := randomKeyID()
	if err != nil {
		return Record{}, err
	}

	pub := priv.PublicKey().Bytes()
	return Record{
		Identity:   identity,
		KeyID:      keyID,
		PublicKey:  pub,
		PrivateKey: priv.Bytes(),
		Signature:  ed25519.Sign(signingKey, pub),
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// Rotate generates, persists, and returns a new signed prekey for the
// identity, updating the rotation timestamp. The caller uploads the
// returned record and then calls CullSuperseded.
func (s *Store) Rotate(ctx context.Context, tx storage.WriteTx, identity ident.IdentityType, signingKey ed25519.PrivateKey) (Record, error) {
	rec, err := s.GenerateRecord(identity, signingKey)
	if err != nil {
		return Record{}, err
	}
	if err := s.repo.Store(ctx, tx, rec); err != nil {
		return Record{}, fmt.Errorf("store prekey: %w", err)
	}
	if err := s.repo.SetLastRotation(ctx, tx, identity, rec.CreatedAt); err != nil {
		return Record{}, fmt.Errorf("record rotation: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"identity": identity.String(),
		"key_id":   rec.KeyID,
	}).Info("signed prekey rotated")
	return rec, nil
}

// Load returns the stored record for the identity and key id.
func (s *Store) Load(ctx context.Context, tx storage.ReadTx, identity ident.IdentityType, keyID uint32) (Record, error) {
	return s.repo.Load(ctx, tx, identity, keyID)
}

// Current returns the identity's newest signed prekey.
func (s *Store) Current(ctx context.Context, tx storage.ReadTx, identity ident.IdentityType) (Record, error) {
	return s.repo.Current(ctx, tx, identity)
}

// Remove deletes a single record. Removing a record that was never
// stored is a no-op.
func (s *Store) Remove(ctx context.Context, tx storage.WriteTx, identity ident.IdentityType, keyID uint32) error {
	if err := s.repo.Remove(ctx, tx, identity, keyID); err != nil {
		return fmt.Errorf("remove prekey: %w", err)
	}
	return nil
}

// CullSuperseded removes every record for the identity except the one
// just uploaded. Sessions established against older prekeys have had
// their chance; keeping only the live record bounds the table.
func (s *Store) CullSuperseded(ctx context.Context, tx storage.WriteTx, identity ident.IdentityType, uploadedID uint32) error {
	n, err := s.repo.Cull(ctx, tx, identity, uploadedID)
	if err != nil {
		return fmt.Errorf("cull prekeys: %w", err)
	}
	if n > 0 {
		s.log.WithFields(logrus.Fields{
			"identity": identity.String(),
			"culled":   n,
		}).Debug("superseded prekeys removed")
	}
	return nil
}

// RotationDue reports whether the identity's signed prekey is older
// than maxAge. An identity with no recorded rotation is always due.
func (s *Store) RotationDue(ctx context.Context, tx storage.ReadTx, identity ident.IdentityType, maxAge time.Duration) (bool, error) {
	last, err := s.repo.LastRotation(ctx, tx, identity)
	if err != nil {
		return false, fmt.Errorf("load rotation time: %w", err)
	}
	if last.IsZero() {
		return true, nil
	}
	return time.Since(last) > maxAge, nil
}

func randomKeyID() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("prekey id: %w", err)
	}
	id := binary.BigEndian.Uint32(buf[:]) % maxKeyID
	if id == 0 {
		id = 1
	}
	return id, nil
}
