// Package profiletest provides an in-memory profile repository for tests
// of components that consume profile state.
package profiletest

import (
	"context"
	"sync"
	"time"

	"github.com/kestrelchat/kestrel/internal/crypto"
	"github.com/kestrelchat/kestrel/internal/ident"
	"github.com/kestrelchat/kestrel/internal/profile"
	"github.com/kestrelchat/kestrel/internal/storage"
)

// FakeRepository is an in-memory profile.Repository. It ignores the
// transaction handles, so tests may pass nil.
type FakeRepository struct {
	mu       sync.Mutex
	profiles map[ident.ServiceID]profile.Profile
	localID  ident.ServiceID

	// Writers records the writer tag of every mutation, in order.
	Writers []profile.Writer
}

// NewFakeRepository returns an empty repository.
func NewFakeRepository() *FakeRepository {
	return &FakeRepository{profiles: make(map[ident.ServiceID]profile.Profile)}
}

// Seed installs a profile without recording a writer.
func (f *FakeRepository) Seed(p profile.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[p.Address.ServiceID] = p
	if p.IsLocal {
		f.localID = p.Address.ServiceID
	}
}

func (f *FakeRepository) Get(_ context.Context, _ storage.ReadTx, id ident.ServiceID) (profile.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return profile.Profile{}, storage.ErrNotFound
	}
	return p, nil
}

func (f *FakeRepository) Local(_ context.Context, _ storage.ReadTx) (profile.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.localID.IsZero() {
		return profile.Profile{}, storage.ErrNotFound
	}
	return f.profiles[f.localID], nil
}

func (f *FakeRepository) Upsert(_ context.Context, _ storage.WriteTx, p profile.Profile, writer profile.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[p.Address.ServiceID] = p
	if p.IsLocal {
		f.localID = p.Address.ServiceID
	}
	f.Writers = append(f.Writers, writer)
	return nil
}

func (f *FakeRepository) SetProfileKey(_ context.Context, _ storage.WriteTx, id ident.ServiceID, key crypto.ProfileKey, fetchedAt time.Time, writer profile.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.profiles[id]
	if !p.LastFetchAt.After(fetchedAt) {
		p.Address.ServiceID = id
		p.Key = &key
		p.LastFetchAt = fetchedAt
		f.profiles[id] = p
	}
	f.Writers = append(f.Writers, writer)
	return nil
}

func (f *FakeRepository) SetLocalProfileKey(_ context.Context, _ storage.WriteTx, key crypto.ProfileKey, writer profile.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.localID.IsZero() {
		return storage.ErrNotFound
	}
	p := f.profiles[f.localID]
	p.Key = &key
	f.profiles[f.localID] = p
	f.Writers = append(f.Writers, writer)
	return nil
}

func (f *FakeRepository) Registered(_ context.Context, _ storage.ReadTx, ids []ident.ServiceID) ([]ident.ServiceID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ident.ServiceID
	for _, id := range ids {
		if p, ok := f.profiles[id]; ok && p.Registered {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *FakeRepository) All(_ context.Context, _ storage.ReadTx) ([]profile.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]profile.Profile, 0, len(f.profiles))
	for _, p := range f.profiles {
		out = append(out, p)
	}
	return out, nil
}
