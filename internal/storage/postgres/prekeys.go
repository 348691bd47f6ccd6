package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kestrelchat/kestrel/internal/ident"
	"github.com/kestrelchat/kestrel/internal/prekeys"
	"github.com/kestrelchat/kestrel/internal/storage"
)

// PreKeyRepo implements prekeys.Repository.
type PreKeyRepo struct{}

var _ prekeys.Repository = PreKeyRepo{}

// NewPreKeyRepo constructs a signed prekey repository.
func NewPreKeyRepo() PreKeyRepo { return PreKeyRepo{} }

func (PreKeyRepo) Store(ctx context.Context, tx storage.WriteTx, r prekeys.Record) error {
	const q = `
INSERT INTO signed_prekeys (identity, key_id, public_key, private_key, signature, generated_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (identity, key_id) DO UPDATE SET
    public_key=EXCLUDED.public_key,
    private_key=EXCLUDED.private_key,
    signature=EXCLUDED.signature,
    generated_at=EXCLUDED.generated_at`
	_, err := tx.Exec(ctx, q, int(r.Identity), int64(r.KeyID), r.PublicKey, r.PrivateKey, r.Signature, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("store prekey: %w", err)
	}
	return nil
}

func (PreKeyRepo) Load(ctx context.Context, tx storage.ReadTx, identity ident.IdentityType, keyID uint32) (prekeys.Record, error) {
	const q = `
SELECT identity, key_id, public_key, private_key, signature, generated_at
FROM signed_prekeys WHERE identity=$1 AND key_id=$2`
	return scanRecord(tx.QueryRow(ctx, q, int(identity), int64(keyID)))
}

func (PreKeyRepo) Current(ctx context.Context, tx storage.ReadTx, identity ident.IdentityType) (prekeys.Record, error) {
	const q = `
SELECT identity, key_id, public_key, private_key, signature, generated_at
FROM signed_prekeys WHERE identity=$1 ORDER BY generated_at DESC LIMIT 1`
	return scanRecord(tx.QueryRow(ctx, q, int(identity)))
}

func (PreKeyRepo) Remove(ctx context.Context, tx storage.WriteTx, identity ident.IdentityType, keyID uint32) error {
	const q = `DELETE FROM signed_prekeys WHERE identity=$1 AND key_id=$2`
	if _, err := tx.Exec(ctx, q, int(identity), int64(keyID)); err != nil {
		return fmt.Errorf("remove prekey: %w", err)
	}
	return nil
}

func (PreKeyRepo) Cull(ctx context.Context, tx storage.WriteTx, identity ident.IdentityType, keepID uint32) (int, error) {
	const q = `DELETE FROM signed_prekeys WHERE identity=$1 AND key_id<>$2`
	tag, err := tx.Exec(ctx, q, int(identity), int64(keepID))
	if err != nil {
		return 0, fmt.Errorf("cull prekeys: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (PreKeyRepo) SetLastRotation(ctx context.Context, tx storage.WriteTx, identity ident.IdentityType, at time.Time) error {
	const q = `
INSERT INTO prekey_rotations (identity, last_rotation_at) VALUES ($1,$2)
ON CONFLICT (identity) DO UPDATE SET last_rotation_at=EXCLUDED.last_rotation_at`
	if _, err := tx.Exec(ctx, q, int(identity), at); err != nil {
		return fmt.Errorf("set last rotation: %w", err)
	}
	return nil
}

func (PreKeyRepo) LastRotation(ctx context.Context, tx storage.ReadTx, identity ident.IdentityType) (time.Time, error) {
	const q = `SELECT last_rotation_at FROM prekey_rotations WHERE identity=$1`
	var at time.Time
	if err := tx.QueryRow(ctx, q, int(identity)).Scan(&at); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("last rotation: %w", err)
	}
	return at, nil
}

func scanRecord(row pgx.Row) (prekeys.Record, error) {
	var (
		r        prekeys.Record
		identity int
		keyID    int64
	)
	err := row.Scan(&identity, &keyID, &r.PublicKey, &r.PrivateKey, &r.Signature, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return prekeys.Record{}, storage.ErrNotFound
		}
		return prekeys.Record{}, fmt.Errorf("load prekey: %w", err)
	}
	r.Identity = ident.IdentityType(identity)
	r.KeyID = uint32(keyID)
	return r, nil
}
