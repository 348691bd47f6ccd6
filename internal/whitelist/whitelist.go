// Package whitelist manages the sets of peers and groups permitted to use
// unidentified access against the local profile. Membership plus a known
// profile key jointly gate sender-anonymous requests; neither alone is
// sufficient.
package whitelist

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kestrelchat/kestrel/internal/ident"
	"github.com/kestrelchat/kestrel/internal/profile"
	"github.com/kestrelchat/kestrel/internal/storage"
	"github.com/kestrelchat/kestrel/internal/thread"
)

var (
	ErrInvalidAddress = errors.New("whitelist: invalid address")
	// ErrStaleEntryMissing reports that a normalization's stale entry
	// vanished mid-transaction. It indicates transaction misuse, not a
	// recoverable condition.
	ErrStaleEntryMissing = errors.New("whitelist: stale entry missing")
)

// Repository is the persistence surface for the membership sets. Insert
// and delete report whether a row actually changed, so the engine can make
// double-add and remove-non-member no-ops.
type Repository interface {
	ContainsAddress(ctx context.Context, tx storage.ReadTx, id ident.ServiceID) (bool, error)
	ContainsGroup(ctx context.Context, tx storage.ReadTx, g ident.GroupID) (bool, error)
	InsertAddress(ctx context.Context, tx storage.WriteTx, id ident.ServiceID, writer profile.Writer) (bool, error)
	DeleteAddress(ctx context.Context, tx storage.WriteTx, id ident.ServiceID) (bool, error)
	InsertGroup(ctx context.Context, tx storage.WriteTx, g ident.GroupID, writer profile.Writer) (bool, error)
	DeleteGroup(ctx context.Context, tx storage.WriteTx, g ident.GroupID) (bool, error)
	Addresses(ctx context.Context, tx storage.ReadTx) ([]ident.ServiceID, error)
}

// Engine answers and mutates whitelist membership. All mutations run under
// the caller's write transaction and are tagged with their writer origin.
type Engine struct {
	repo     Repository
	profiles profile.Repository
	log      *logrus.Entry
}

// NewEngine builds the engine. The profile repository backs the
// registered-address bulk query.
func NewEngine(repo Repository, profiles profile.Repository) *Engine {
	return &Engine{
		repo:     repo,
		profiles: profiles,
		log:      logrus.WithField("component", "whitelist"),
	}
}

// IsAddressWhitelisted reports membership for an address.
func (e *Engine) IsAddressWhitelisted(ctx context.Context, tx storage.ReadTx, addr ident.Address) (bool, error) {
	if !addr.IsValid() {
		return false, ErrInvalidAddress
	}
	return e.repo.ContainsAddress(ctx, tx, addr.ServiceID)
}

// IsGroupWhitelisted reports membership for a group id.
func (e *Engine) IsGroupWhitelisted(ctx context.Context, tx storage.ReadTx, g ident.GroupID) (bool, error) {
	return e.repo.ContainsGroup(ctx, tx, g)
}

// IsThreadWhitelisted reports whether a thread may use unidentified
// access: a contact thread through its address, a group thread through its
// group id or any whitelisted member linkage.
func (e *Engine) IsThreadWhitelisted(ctx context.Context, tx storage.ReadTx, th thread.Thread) (bool, error) {
	if !th.IsGroup() {
		return e.IsAddressWhitelisted(ctx, tx, th.Address)
	}
	ok, err := e.repo.ContainsGroup(ctx, tx, th.GroupID)
	if err != nil || ok {
		return ok, err
	}
	for _, member := range th.Members {
		ok, err := e.repo.ContainsAddress(ctx, tx, member.ServiceID)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// AddAddress whitelists an address. Adding an existing member is a no-op.
func (e *Engine) AddAddress(ctx context.Context, tx storage.WriteTx, addr ident.Address, writer profile.Writer) error {
	if !addr.IsValid() {
		return ErrInvalidAddress
	}
	inserted, err := e.repo.InsertAddress(ctx, tx, addr.ServiceID, writer)
	if err != nil {
		return fmt.Errorf("whitelist address: %w", err)
	}
	if inserted {
		e.log.WithFields(logrus.Fields{
			"service_id": addr.ServiceID,
			"writer":     writer.String(),
		}).Debug("address whitelisted")
	}
	return nil
}

// AddAddresses whitelists a batch of addresses within one transaction.
func (e *Engine) AddAddresses(ctx context.Context, tx storage.WriteTx, addrs []ident.Address, writer profile.Writer) error {
	for _, addr := range addrs {
		if err := e.AddAddress(ctx, tx, addr, writer); err != nil {
			return err
		}
	}
	return nil
}

// RemoveAddress removes an address. Removing a non-member is a no-op, not
// an error.
func (e *Engine) RemoveAddress(ctx context.Context, tx storage.WriteTx, addr ident.Address, writer profile.Writer) error {
	if !addr.IsValid() {
		return ErrInvalidAddress
	}
	removed, err := e.repo.DeleteAddress(ctx, tx, addr.ServiceID)
	if err != nil {
		return fmt.Errorf("remove whitelisted address: %w", err)
	}
	if removed {
		e.log.WithFields(logrus.Fields{
			"service_id": addr.ServiceID,
			"writer":     writer.String(),
		}).Debug("address removed from whitelist")
	}
	return nil
}

// AddGroup whitelists a group id.
func (e *Engine) AddGroup(ctx context.Context, tx storage.WriteTx, g ident.GroupID, writer profile.Writer) error {
	if g.IsZero() {
		return fmt.Errorf("%w: zero group id", ident.ErrInvalidGroupID)
	}
	inserted, err := e.repo.InsertGroup(ctx, tx, g, writer)
	if err != nil {
		return fmt.Errorf("whitelist group: %w", err)
	}
	if inserted {
		e.log.WithFields(logrus.Fields{
			"group_id": g,
			"writer":   writer.String(),
		}).Debug("group whitelisted")
	}
	return nil
}

// RemoveGroup removes a group id. Removing a non-member is a no-op.
func (e *Engine) RemoveGroup(ctx context.Context, tx storage.WriteTx, g ident.GroupID, writer profile.Writer) error {
	removed, err := e.repo.DeleteGroup(ctx, tx, g)
	if err != nil {
		return fmt.Errorf("remove whitelisted group: %w", err)
	}
	if removed {
		e.log.WithFields(logrus.Fields{
			"group_id": g,
			"writer":   writer.String(),
		}).Debug("group removed from whitelist")
	}
	return nil
}

// AddThread whitelists the thread's backing entry: the address for contact
// threads, the group id for group threads.
func (e *Engine) AddThread(ctx context.Context, tx storage.WriteTx, th thread.Thread, writer profile.Writer) error {
	if th.IsGroup() {
		return e.AddGroup(ctx, tx, th.GroupID, writer)
	}
	return e.AddAddress(ctx, tx, th.Address, writer)
}

// NormalizeRecipient migrates whitelist membership after a recipient merge
// resolved the stale address into the canonical one. The stale entry never
// survives; the canonical address ends up whitelisted when the stale one
// was. Identity changes therefore never silently drop or duplicate
// membership.
func (e *Engine) NormalizeRecipient(ctx context.Context, tx storage.WriteTx, stale, canonical ident.Address, writer profile.Writer) error {
	if !stale.IsValid() || !canonical.IsValid() {
		return ErrInvalidAddress
	}
	if stale.Equal(canonical) {
		return nil
	}

	wasMember, err := e.repo.ContainsAddress(ctx, tx, stale.ServiceID)
	if err != nil {
		return fmt.Errorf("normalize recipient: %w", err)
	}
	if !wasMember {
		return nil
	}

	if _, err := e.repo.InsertAddress(ctx, tx, canonical.ServiceID, writer); err != nil {
		return fmt.Errorf("normalize recipient: %w", err)
	}
	removed, err := e.repo.DeleteAddress(ctx, tx, stale.ServiceID)
	if err != nil {
		return fmt.Errorf("normalize recipient: %w", err)
	}
	if !removed {
		// Contains said true inside this same transaction scope.
		return fmt.Errorf("%w: %s", ErrStaleEntryMissing, stale.ServiceID)
	}
	e.log.WithFields(logrus.Fields{
		"stale":     stale.ServiceID,
		"canonical": canonical.ServiceID,
		"writer":    writer.String(),
	}).Info("whitelist membership migrated")
	return nil
}

// AllWhitelistedRegisteredAddresses returns every whitelisted address that
// currently has a registered profile. Used by broadcast-style operations.
func (e *Engine) AllWhitelistedRegisteredAddresses(ctx context.Context, tx storage.ReadTx) ([]ident.Address, error) {
	ids, err := e.repo.Addresses(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("list whitelist: %w", err)
	}
	registered, err := e.profiles.Registered(ctx, tx, ids)
	if err != nil {
		return nil, fmt.Errorf("filter registered: %w", err)
	}
	out := make([]ident.Address, 0, len(registered))
	for _, id := range registered {
		out = append(out, ident.NewAddress(id))
	}
	return out, nil
}
