// Package whitelisttest provides an in-memory whitelist repository for
// tests. Transaction handles are ignored; tests may pass nil.
package whitelisttest

import (
	"context"
	"sync"

	"github.com/kestrelchat/kestrel/internal/ident"
	"github.com/kestrelchat/kestrel/internal/profile"
	"github.com/kestrelchat/kestrel/internal/storage"
	"github.com/kestrelchat/kestrel/internal/whitelist"
)

// FakeRepository is an in-memory whitelist.Repository.
type FakeRepository struct {
	mu        sync.Mutex
	addresses map[ident.ServiceID]struct{}
	groups    map[ident.GroupID]struct{}
}

var _ whitelist.Repository = (*FakeRepository)(nil)

// NewFakeRepository returns an empty repository.
func NewFakeRepository() *FakeRepository {
	return &FakeRepository{
		addresses: make(map[ident.ServiceID]struct{}),
		groups:    make(map[ident.GroupID]struct{}),
	}
}

func (f *FakeRepository) ContainsAddress(_ context.Context, _ storage.ReadTx, id ident.ServiceID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.addresses[id]
	return ok, nil
}

func (f *FakeRepository) ContainsGroup(_ context.Context, _ storage.ReadTx, g ident.GroupID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.groups[g]
	return ok, nil
}

func (f *FakeRepository) InsertAddress(_ context.Context, _ storage.WriteTx, id ident.ServiceID, _ profile.Writer) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.addresses[id]; ok {
		return false, nil
	}
	f.addresses[id] = struct{}{}
	return true, nil
}

func (f *FakeRepository) DeleteAddress(_ context.Context, _ storage.WriteTx, id ident.ServiceID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.addresses[id]; !ok {
		return false, nil
	}
	delete(f.addresses, id)
	return true, nil
}

func (f *FakeRepository) InsertGroup(_ context.Context, _ storage.WriteTx, g ident.GroupID, _ profile.Writer) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.groups[g]; ok {
		return false, nil
	}
	f.groups[g] = struct{}{}
	return true, nil
}

func (f *FakeRepository) DeleteGroup(_ context.Context, _ storage.WriteTx, g ident.GroupID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.groups[g]; !ok {
		return false, nil
	}
	delete(f.groups, g)
	return true, nil
}

func (f *FakeRepository) Addresses(_ context.Context, _ storage.ReadTx) ([]ident.ServiceID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ident.ServiceID, 0, len(f.addresses))
	for id := range f.addresses {
		out = append(out, id)
	}
	return out, nil
}

// Count reports the current membership sizes. Test helper only.
func (f *FakeRepository) Count() (addresses, groups int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.addresses), len(f.groups)
}
