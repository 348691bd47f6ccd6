// Package contact stores system contact entries and resolves display
// names. Resolution prefers the local address book, then the recipient's
// decrypted profile name, then their username, then the phone number, and
// finally a fixed placeholder, so the UI always has something to render.
package contact

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kestrelchat/kestrel/internal/crypto"
	"github.com/kestrelchat/kestrel/internal/ident"
	"github.com/kestrelchat/kestrel/internal/profile"
	"github.com/kestrelchat/kestrel/internal/storage"
)

// UnknownDisplayName renders when no name source resolves.
const UnknownDisplayName = "Unknown"

// Contact is a local address book entry.
type Contact struct {
	ServiceID  ident.ServiceID
	E164       string
	GivenName  string
	FamilyName string
	Nickname   string
	Username   string
}

// FullName joins the contact's name components.
func (c Contact) FullName() string {
	return joinName(c.GivenName, c.FamilyName)
}

// Repository persists address book entries.
type Repository interface {
	// Get returns a contact, or storage.ErrNotFound.
	Get(ctx context.Context, tx storage.ReadTx, id ident.ServiceID) (Contact, error)
	// Upsert creates or replaces a contact entry.
	Upsert(ctx context.Context, tx storage.WriteTx, c Contact) error
	// Delete removes a contact entry; removing a missing entry is a
	// no-op.
	Delete(ctx context.Context, tx storage.WriteTx, id ident.ServiceID) error
	// All returns every contact entry.
	All(ctx context.Context, tx storage.ReadTx) ([]Contact, error)
}

// Resolver resolves display names from contacts and profiles.
type Resolver struct {
	contacts Repository
	profiles profile.Repository
}

// NewResolver wires a display name resolver.
func NewResolver(contacts Repository, profiles profile.Repository) *Resolver {
	return &Resolver{contacts: contacts, profiles: profiles}
}

// DisplayName resolves the best available name for an address.
func (r *Resolver) DisplayName(ctx context.Context, tx storage.ReadTx, addr ident.Address) (string, error) {
	var username string
	if c, err := r.contacts.Get(ctx, tx, addr.ServiceID); err == nil {
		if c.Nickname != "" {
			return c.Nickname, nil
		}
		if name := c.FullName(); name != "" {
			return name, nil
		}
		username = c.Username
	} else if !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("load contact: %w", err)
	}

	if name, err := r.profileName(ctx, tx, addr.ServiceID, false); err != nil {
		return "", err
	} else if name != "" {
		return name, nil
	}

	if username != "" {
		return username, nil
	}
	if addr.E164 != "" {
		return addr.E164, nil
	}
	return UnknownDisplayName, nil
}

// ShortDisplayName prefers a single component: nickname, then given
// name, then the full resolution chain.
func (r *Resolver) ShortDisplayName(ctx context.Context, tx storage.ReadTx, addr ident.Address) (string, error) {
	if c, err := r.contacts.Get(ctx, tx, addr.ServiceID); err == nil {
		if c.Nickname != "" {
			return c.Nickname, nil
		}
		if c.GivenName != "" {
			return c.GivenName, nil
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("load contact: %w", err)
	}

	if name, err := r.profileName(ctx, tx, addr.ServiceID, true); err != nil {
		return "", err
	} else if name != "" {
		return name, nil
	}
	return r.DisplayName(ctx, tx, addr)
}

// SortAddresses orders addresses by resolved display name, ties broken
// by service id, so recipient lists render stably.
func (r *Resolver) SortAddresses(ctx context.Context, tx storage.ReadTx, addrs []ident.Address) error {
	names := make(map[ident.ServiceID]string, len(addrs))
	for _, addr := range addrs {
		name, err := r.DisplayName(ctx, tx, addr)
		if err != nil {
			return err
		}
		names[addr.ServiceID] = strings.ToLower(name)
	}
	sort.SliceStable(addrs, func(i, j int) bool {
		ni, nj := names[addrs[i].ServiceID], names[addrs[j].ServiceID]
		if ni != nj {
			return ni < nj
		}
		return addrs[i].ServiceID.String() < addrs[j].ServiceID.String()
	})
	return nil
}

// profileName decrypts the recipient's profile name when their key is
// known. givenOnly limits the result to the given name component.
func (r *Resolver) profileName(ctx context.Context, tx storage.ReadTx, id ident.ServiceID, givenOnly bool) (string, error) {
	p, err := r.profiles.Get(ctx, tx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("load profile: %w", err)
	}
	if p.Key == nil {
		return "", nil
	}
	given, err := crypto.DecryptName(*p.Key, p.GivenNameEnc)
	if err != nil {
		return "", fmt.Errorf("decrypt profile name: %w", err)
	}
	if givenOnly {
		return given, nil
	}
	family, err := crypto.DecryptName(*p.Key, p.FamilyNameEnc)
	if err != nil {
		return "", fmt.Errorf("decrypt profile name: %w", err)
	}
	return joinName(given, family), nil
}

func joinName(given, family string) string {
	switch {
	case given == "":
		return family
	case family == "":
		return given
	default:
		return given + " " + family
	}
}
