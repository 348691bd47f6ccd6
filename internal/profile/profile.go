// Package profile holds the user profile entity, the provenance tags of
// its mutations, and the store facade (with its bounded read cache) that
// the rest of the backend reads profile and key state through.
package profile

import (
	"context"
	"time"

	"github.com/kestrelchat/kestrel/internal/crypto"
	"github.com/kestrelchat/kestrel/internal/ident"
	"github.com/kestrelchat/kestrel/internal/storage"
)

// Profile is the persisted state of one participant, keyed by service id.
// Name components are stored encrypted under the profile key. The local
// account's row additionally carries the authoritative local profile key.
type Profile struct {
	Address       ident.Address
	IsLocal       bool
	GivenNameEnc  []byte
	FamilyNameEnc []byte
	AvatarURLPath string
	AvatarData    []byte
	Badges        []string
	Key           *crypto.ProfileKey
	Registered    bool
	LastFetchAt   time.Time
}

// HasNameOrAvatar reports whether the profile carries any displayable
// content. Distinct from mere existence of the row.
func (p Profile) HasNameOrAvatar() bool {
	return len(p.GivenNameEnc) > 0 || len(p.FamilyNameEnc) > 0 || p.AvatarURLPath != "" || len(p.AvatarData) > 0
}

// Repository is the persistence surface for profiles. Every method takes
// the transaction handle explicitly.
type Repository interface {
	// Get returns the profile for a service id, or storage.ErrNotFound.
	Get(ctx context.Context, tx storage.ReadTx, id ident.ServiceID) (Profile, error)
	// Local returns the local account's profile, or storage.ErrNotFound.
	Local(ctx context.Context, tx storage.ReadTx) (Profile, error)
	// Upsert creates or replaces a profile row, tagged with its writer.
	Upsert(ctx context.Context, tx storage.WriteTx, p Profile, writer Writer) error
	// SetProfileKey records a remote party's profile key. The write is
	// last-writer-wins by fetch recency: a key observed at an older
	// fetchedAt than the stored one is ignored.
	SetProfileKey(ctx context.Context, tx storage.WriteTx, id ident.ServiceID, key crypto.ProfileKey, fetchedAt time.Time, writer Writer) error
	// SetLocalProfileKey replaces the local account's profile key.
	SetLocalProfileKey(ctx context.Context, tx storage.WriteTx, key crypto.ProfileKey, writer Writer) error
	// Registered filters the given ids down to those with a currently
	// registered profile.
	Registered(ctx context.Context, tx storage.ReadTx, ids []ident.ServiceID) ([]ident.ServiceID, error)
	// All returns every stored profile. Used to warm the read cache.
	All(ctx context.Context, tx storage.ReadTx) ([]Profile, error)
}
