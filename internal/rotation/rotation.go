// Package rotation decides when the local profile key must be replaced
// and performs the replacement. A rotation swaps the key inside its own
// committed transaction, then re-uploads the profile name sealed under
// the new key; the engine stays in a pending state until that upload
// lands, so a crashed or failed upload can be retried without generating
// yet another key. Because the swap commits before the upload starts, an
// upload failure can never unwind the persisted key.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kestrelchat/kestrel/internal/crypto"
	"github.com/kestrelchat/kestrel/internal/ident"
	"github.com/kestrelchat/kestrel/internal/profile"
	"github.com/kestrelchat/kestrel/internal/request"
	"github.com/kestrelchat/kestrel/internal/storage"
	"github.com/kestrelchat/kestrel/internal/transport"
	"github.com/kestrelchat/kestrel/internal/whitelist"
)

var (
	// ErrUploadFailed reports that the key was rotated locally but the
	// profile re-upload did not land. The engine remains pending.
	ErrUploadFailed = errors.New("rotation: profile upload failed")

	// ErrNothingPending reports a retry with no outstanding upload.
	ErrNothingPending = errors.New("rotation: no pending upload")

	// ErrNoLocalProfile reports that rotation ran before the local
	// profile was created.
	ErrNoLocalProfile = errors.New("rotation: no local profile")
)

// State is the engine's upload state.
type State int

const (
	// Stable means the current local key has been uploaded.
	Stable State = iota
	// RotationPending means a new key is live locally but its profile
	// re-upload has not succeeded yet.
	RotationPending
)

func (s State) String() string {
	switch s {
	case Stable:
		return "stable"
	case RotationPending:
		return "rotation_pending"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Delta describes a membership change the engine evaluates for key
// exposure.
type Delta struct {
	Added   []ident.Address
	Removed []ident.Address
	Blocked []ident.Address
}

// ExposurePredicate reports whether a membership change exposed the
// profile key to someone who should no longer hold it.
type ExposurePredicate func(Delta) bool

// DefaultExposure rotates on removals and on blocked members. Additions
// never trigger rotation: new members receiving the key is the point of
// whitelisting them.
func DefaultExposure(d Delta) bool {
	return len(d.Removed) > 0 || len(d.Blocked) > 0
}

// Names are padded before sealing so ciphertext length does not leak
// name length, and so a nameless profile still produces an upload body.
const paddedNameLength = 128

// TxRunner runs a function inside a write transaction that commits when
// the function returns nil and rolls back otherwise. *storage.DB
// satisfies it.
type TxRunner interface {
	InWriteTx(ctx context.Context, fn func(tx storage.WriteTx) error) error
}

// Profiles is the profile surface a rotation touches. Both the raw
// repository and the caching *profile.Store satisfy it; wiring the Store
// keeps its read cache coherent with the key swap.
type Profiles interface {
	Local(ctx context.Context, tx storage.ReadTx) (profile.Profile, error)
	SetLocalProfileKey(ctx context.Context, tx storage.WriteTx, key crypto.ProfileKey, writer profile.Writer) error
	Upsert(ctx context.Context, tx storage.WriteTx, p profile.Profile, writer profile.Writer) error
}

// Engine serializes profile key rotations. All rotation paths funnel
// through one mutex, so concurrent triggers collapse into sequential
// rotations and a retry can never race a fresh rotation. The engine owns
// its write scope: the key swap commits before the upload is attempted.
type Engine struct {
	db        TxRunner
	profiles  Profiles
	whitelist *whitelist.Engine
	sender    transport.Sender
	predicate ExposurePredicate
	log       *logrus.Entry

	mu          sync.Mutex
	state       State
	generation  uint64
	pendingBody []byte
}

// NewEngine wires a rotation engine. A nil predicate falls back to
// DefaultExposure.
func NewEngine(db TxRunner, profiles Profiles, wl *whitelist.Engine, sender transport.Sender, predicate ExposurePredicate) *Engine {
	if predicate == nil {
		predicate = DefaultExposure
	}
	return &Engine{
		db:        db,
		profiles:  profiles,
		whitelist: wl,
		sender:    sender,
		predicate: predicate,
		log:       logrus.WithField("component", "rotation"),
	}
}

// State returns the current upload state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Generation counts completed local key swaps. Diagnostics only.
func (e *Engine) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation
}

// RotateForRecipientHide removes the hidden recipient from the
// whitelist and unconditionally rotates: hiding someone revokes their
// claim to the current key.
func (e *Engine) RotateForRecipientHide(ctx context.Context, addr ident.Address) error {
	return e.rotate(ctx, "recipient_hide", func(ctx context.Context, tx storage.WriteTx) error {
		if err := e.whitelist.RemoveAddress(ctx, tx, addr, profile.WriterLocalUser); err != nil {
			return fmt.Errorf("hide recipient: %w", err)
		}
		return nil
	})
}

// RotateForGroupDeparture handles leaving a group. The group entry
// leaves the whitelist either way; the key rotates only when a blocked
// member remains behind holding it.
func (e *Engine) RotateForGroupDeparture(ctx context.Context, g ident.GroupID, hadBlockedMember bool) error {
	if !hadBlockedMember {
		return e.db.InWriteTx(ctx, func(tx storage.WriteTx) error {
			if err := e.whitelist.RemoveGroup(ctx, tx, g, profile.WriterLocalUser); err != nil {
				return fmt.Errorf("group departure: %w", err)
			}
			return nil
		})
	}
	return e.rotate(ctx, "group_departure_blocked_member", func(ctx context.Context, tx storage.WriteTx) error {
		if err := e.whitelist.RemoveGroup(ctx, tx, g, profile.WriterLocalUser); err != nil {
			return fmt.Errorf("group departure: %w", err)
		}
		return nil
	})
}

// ForceRotate rotates unconditionally. Manual and diagnostic use.
func (e *Engine) ForceRotate(ctx context.Context) error {
	return e.rotate(ctx, "manual", nil)
}

// RotateIfNeeded evaluates a membership change against the exposure
// predicate and rotates when it fires. Returns whether a rotation ran.
func (e *Engine) RotateIfNeeded(ctx context.Context, d Delta) (bool, error) {
	if !e.predicate(d) {
		return false, nil
	}
	if err := e.rotate(ctx, "membership_change", nil); err != nil {
		return true, err
	}
	return true, nil
}

// RetryPendingUpload re-sends the profile upload of a pending rotation
// without generating another key. Returns ErrNothingPending when the
// engine is stable.
func (e *Engine) RetryPendingUpload(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != RotationPending {
		return ErrNothingPending
	}
	if err := e.upload(ctx, e.pendingBody); err != nil {
		return err
	}
	e.state = Stable
	e.pendingBody = nil
	e.log.WithField("generation", e.generation).Info("pending profile upload landed")
	return nil
}

// rotate swaps the local key in its own committed transaction, then
// re-uploads the profile name under it. The prepare hook runs inside the
// same transaction as the swap, so trigger-specific whitelist edits
// commit atomically with the key. A rotation that starts while an upload
// retry is still owed simply replaces the pending body; the superseded
// upload is never sent.
func (e *Engine) rotate(ctx context.Context, reason string, prepare func(context.Context, storage.WriteTx) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var body []byte
	err := e.db.InWriteTx(ctx, func(tx storage.WriteTx) error {
		if prepare != nil {
			if err := prepare(ctx, tx); err != nil {
				return err
			}
		}
		sealed, err := e.swapKey(ctx, tx)
		if err != nil {
			return err
		}
		body = sealed
		return nil
	})
	if err != nil {
		return err
	}

	// The swap is committed. From here on the new key is authoritative
	// no matter what the upload does.
	e.generation++
	e.state = RotationPending
	e.pendingBody = body
	e.log.WithFields(logrus.Fields{
		"reason":     reason,
		"generation": e.generation,
	}).Info("profile key rotated")

	if err := e.upload(ctx, body); err != nil {
		return err
	}
	e.state = Stable
	e.pendingBody = nil
	return nil
}

// swapKey generates a fresh profile key, reseals the local name fields
// under it, and persists both. Returns the sealed upload body.
func (e *Engine) swapKey(ctx context.Context, tx storage.WriteTx) ([]byte, error) {
	local, err := e.profiles.Local(ctx, tx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoLocalProfile
		}
		return nil, fmt.Errorf("load local profile: %w", err)
	}

	var given, family string
	if local.Key != nil {
		oldKey := *local.Key
		if given, err = crypto.DecryptName(oldKey, local.GivenNameEnc); err != nil {
			return nil, fmt.Errorf("recover given name: %w", err)
		}
		if family, err = crypto.DecryptName(oldKey, local.FamilyNameEnc); err != nil {
			return nil, fmt.Errorf("recover family name: %w", err)
		}
	}

	newKey, err := crypto.GenerateProfileKey()
	if err != nil {
		return nil, fmt.Errorf("generate profile key: %w", err)
	}

	if local.GivenNameEnc, err = crypto.EncryptName(newKey, given); err != nil {
		return nil, fmt.Errorf("reseal given name: %w", err)
	}
	if local.FamilyNameEnc, err = crypto.EncryptName(newKey, family); err != nil {
		return nil, fmt.Errorf("reseal family name: %w", err)
	}
	local.Key = &newKey

	if err := e.profiles.SetLocalProfileKey(ctx, tx, newKey, profile.WriterReupload); err != nil {
		return nil, fmt.Errorf("store rotated key: %w", err)
	}
	if err := e.profiles.Upsert(ctx, tx, local, profile.WriterReupload); err != nil {
		return nil, fmt.Errorf("store resealed names: %w", err)
	}

	body, err := crypto.EncryptName(newKey, padName(given, family))
	if err != nil {
		return nil, fmt.Errorf("seal upload body: %w", err)
	}
	return body, nil
}

func (e *Engine) upload(ctx context.Context, body []byte) error {
	d, err := request.SetProfileName(body)
	if err != nil {
		return fmt.Errorf("build profile upload: %w", err)
	}
	if _, err := e.sender.Send(ctx, d); err != nil {
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return nil
}

// padName joins the name components with a NUL separator and pads the
// result to a fixed width, so the sealed upload never leaks length and
// is never empty.
func padName(given, family string) string {
	joined := given + "\x00" + family
	if len(joined) >= paddedNameLength {
		return joined
	}
	return joined + strings.Repeat("\x00", paddedNameLength-len(joined))
}
