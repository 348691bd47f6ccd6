// Package udaccess resolves unidentified-access keys for recipients.
// A recipient is eligible for sealed sending only when whitelisted and
// when their profile key is known; anything less is a hard error, never
// a silent downgrade to identified sending.
package udaccess

import (
	"context"
	"errors"
	"fmt"

	"github.com/kestrelchat/kestrel/internal/crypto"
	"github.com/kestrelchat/kestrel/internal/ident"
	"github.com/kestrelchat/kestrel/internal/profile"
	"github.com/kestrelchat/kestrel/internal/storage"
	"github.com/kestrelchat/kestrel/internal/whitelist"
)

// ErrNoAccessKey reports that no unidentified-access key can be derived
// for a recipient. Callers decide whether to fall back to identified
// sending; this package never does.
var ErrNoAccessKey = errors.New("udaccess: no access key for recipient")

// Resolver derives access keys from whitelist membership and stored
// profile keys.
type Resolver struct {
	whitelist *whitelist.Engine
	profiles  profile.Repository
}

// NewResolver wires a resolver over the whitelist engine and profile
// storage.
func NewResolver(wl *whitelist.Engine, profiles profile.Repository) *Resolver {
	return &Resolver{whitelist: wl, profiles: profiles}
}

// AccessKeyFor derives the recipient's unidentified-access key. Returns
// ErrNoAccessKey when the recipient is not whitelisted or their profile
// key is unknown.
func (r *Resolver) AccessKeyFor(ctx context.Context, tx storage.ReadTx, addr ident.Address) (crypto.AccessKey, error) {
	ok, err := r.whitelist.IsAddressWhitelisted(ctx, tx, addr)
	if err != nil {
		return crypto.AccessKey{}, fmt.Errorf("check whitelist: %w", err)
	}
	if !ok {
		return crypto.AccessKey{}, fmt.Errorf("%w: %s not whitelisted", ErrNoAccessKey, addr.ServiceID)
	}

	p, err := r.profiles.Get(ctx, tx, addr.ServiceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return crypto.AccessKey{}, fmt.Errorf("%w: no profile for %s", ErrNoAccessKey, addr.ServiceID)
		}
		return crypto.AccessKey{}, fmt.Errorf("load profile: %w", err)
	}
	if p.Key == nil {
		return crypto.AccessKey{}, fmt.Errorf("%w: profile key unknown for %s", ErrNoAccessKey, addr.ServiceID)
	}
	return crypto.DeriveAccessKey(*p.Key, false)
}

// CompositeAccessKeyFor combines the access keys of every recipient for
// multi-recipient sealed sends. All recipients must resolve; one
// ineligible recipient fails the whole derivation.
func (r *Resolver) CompositeAccessKeyFor(ctx context.Context, tx storage.ReadTx, addrs []ident.Address) (crypto.AccessKey, error) {
	if len(addrs) == 0 {
		return crypto.AccessKey{}, fmt.Errorf("%w: no recipients", ErrNoAccessKey)
	}
	keys := make([]crypto.AccessKey, 0, len(addrs))
	for _, addr := range addrs {
		key, err := r.AccessKeyFor(ctx, tx, addr)
		if err != nil {
			return crypto.AccessKey{}, err
		}
		keys = append(keys, key)
	}
	return crypto.CombineAccessKeys(keys)
}
