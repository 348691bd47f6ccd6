package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kestrelchat/kestrel/internal/crypto"
	"github.com/kestrelchat/kestrel/internal/ident"
	"github.com/kestrelchat/kestrel/internal/storage"
)

// defaultCacheCapacity bounds the in-memory read cache under normal
// operation. Bulk work can raise it temporarily with LeaseCacheSize.
const defaultCacheCapacity = 256

// Store is the read/write facade over profile state. Reads go through a
// bounded in-memory cache; writes go through the repository and update the
// cache, so rotation and fetch results are immediately visible.
type Store struct {
	repo Repository
	log  *logrus.Entry

	mu       sync.Mutex
	cache    map[ident.ServiceID]Profile
	capacity int
}

// NewStore builds a store over the given repository.
func NewStore(repo Repository) *Store {
	return &Store{
		repo:     repo,
		log:      logrus.WithField("component", "profile"),
		cache:    make(map[ident.ServiceID]Profile),
		capacity: defaultCacheCapacity,
	}
}

// CacheSizeLease is a scoped raise of the read-cache capacity. Release
// restores the previous capacity; callers must release on every exit path.
type CacheSizeLease struct {
	store *Store
	prev  int
	once  sync.Once
}

// Release restores the capacity held before the lease. Safe to call more
// than once.
func (l *CacheSizeLease) Release() {
	l.once.Do(func() {
		l.store.mu.Lock()
		defer l.store.mu.Unlock()
		l.store.capacity = l.prev
		l.store.enforceCapacityLocked()
	})
}

// LeaseCacheSize temporarily raises the read-cache capacity, for bulk
// operations that would otherwise thrash it. A size at or below the
// current capacity yields a lease whose Release changes nothing, so
// callers can always defer Release unconditionally.
func (s *Store) LeaseCacheSize(size int) *CacheSizeLease {
	s.mu.Lock()
	defer s.mu.Unlock()
	lease := &CacheSizeLease{store: s, prev: s.capacity}
	if size > s.capacity {
		s.capacity = size
	}
	return lease
}

// WarmCaches prefetches all stored profiles into the read cache. Invoked
// once at process start.
func (s *Store) WarmCaches(ctx context.Context, tx storage.ReadTx) error {
	profiles, err := s.repo.All(ctx, tx)
	if err != nil {
		return fmt.Errorf("warm profile cache: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range profiles {
		if len(s.cache) >= s.capacity {
			break
		}
		s.cache[p.Address.ServiceID] = p
	}
	s.log.WithField("cached", len(s.cache)).Debug("profile cache warmed")
	return nil
}

// LocalProfileExists reports whether any local profile row exists.
func (s *Store) LocalProfileExists(ctx context.Context, tx storage.ReadTx) (bool, error) {
	_, err := s.repo.Local(ctx, tx)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// HasLocalProfile reports whether the local profile exists and carries a
// name or avatar.
func (s *Store) HasLocalProfile(ctx context.Context, tx storage.ReadTx) (bool, error) {
	local, err := s.repo.Local(ctx, tx)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return local.HasNameOrAvatar(), nil
}

// LocalProfileKey returns the authoritative local profile key.
func (s *Store) LocalProfileKey(ctx context.Context, tx storage.ReadTx) (crypto.ProfileKey, error) {
	local, err := s.repo.Local(ctx, tx)
	if err != nil {
		return crypto.ProfileKey{}, err
	}
	if local.Key == nil {
		return crypto.ProfileKey{}, fmt.Errorf("local profile has no key: %w", storage.ErrNotFound)
	}
	return *local.Key, nil
}

// LocalGivenName returns the decrypted local given name, or "" when unset.
func (s *Store) LocalGivenName(ctx context.Context, tx storage.ReadTx) (string, error) {
	return s.localNamePart(ctx, tx, func(p Profile) []byte { return p.GivenNameEnc })
}

// LocalFamilyName returns the decrypted local family name, or "" when unset.
func (s *Store) LocalFamilyName(ctx context.Context, tx storage.ReadTx) (string, error) {
	return s.localNamePart(ctx, tx, func(p Profile) []byte { return p.FamilyNameEnc })
}

// LocalFullName joins the decrypted local name parts. Empty when the
// profile has no name.
func (s *Store) LocalFullName(ctx context.Context, tx storage.ReadTx) (string, error) {
	given, err := s.LocalGivenName(ctx, tx)
	if err != nil {
		return "", err
	}
	family, err := s.LocalFamilyName(ctx, tx)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(given + " " + family), nil
}

// LocalAvatarData returns the cached local avatar bytes, if any.
func (s *Store) LocalAvatarData(ctx context.Context, tx storage.ReadTx) ([]byte, error) {
	local, err := s.repo.Local(ctx, tx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return local.AvatarData, nil
}

// LocalBadges returns the local profile's badge ids.
func (s *Store) LocalBadges(ctx context.Context, tx storage.ReadTx) ([]string, error) {
	local, err := s.repo.Local(ctx, tx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return local.Badges, nil
}

func (s *Store) localNamePart(ctx context.Context, tx storage.ReadTx, part func(Profile) []byte) (string, error) {
	local, err := s.repo.Local(ctx, tx)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	sealed := part(local)
	if len(sealed) == 0 || local.Key == nil {
		return "", nil
	}
	return crypto.DecryptName(*local.Key, sealed)
}

// Local returns the full local profile row and refreshes its cache
// entry.
func (s *Store) Local(ctx context.Context, tx storage.ReadTx) (Profile, error) {
	p, err := s.repo.Local(ctx, tx)
	if err != nil {
		return Profile{}, err
	}
	s.cachePut(p)
	return p, nil
}

// ProfileFor returns the profile for an address, via the read cache.
func (s *Store) ProfileFor(ctx context.Context, tx storage.ReadTx, addr ident.Address) (Profile, error) {
	s.mu.Lock()
	if p, ok := s.cache[addr.ServiceID]; ok {
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	p, err := s.repo.Get(ctx, tx, addr.ServiceID)
	if err != nil {
		return Profile{}, err
	}
	s.cachePut(p)
	return p, nil
}

// FullNameFor returns a remote party's decrypted full name, or "" when the
// name or its key is unknown.
func (s *Store) FullNameFor(ctx context.Context, tx storage.ReadTx, addr ident.Address) (string, error) {
	p, err := s.ProfileFor(ctx, tx, addr)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if p.Key == nil {
		return "", nil
	}
	given, err := crypto.DecryptName(*p.Key, p.GivenNameEnc)
	if err != nil {
		return "", err
	}
	family, err := crypto.DecryptName(*p.Key, p.FamilyNameEnc)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(given + " " + family), nil
}

// ProfileKeyFor returns the wrapped profile key for an address, or nil when
// no key is known.
func (s *Store) ProfileKeyFor(ctx context.Context, tx storage.ReadTx, addr ident.Address) (*crypto.ProfileKey, error) {
	p, err := s.ProfileFor(ctx, tx, addr)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p.Key, nil
}

// ProfileKeyBytesFor returns the raw profile key bytes for an address, or
// nil when no key is known.
func (s *Store) ProfileKeyBytesFor(ctx context.Context, tx storage.ReadTx, addr ident.Address) ([]byte, error) {
	key, err := s.ProfileKeyFor(ctx, tx, addr)
	if err != nil || key == nil {
		return nil, err
	}
	return key.Bytes(), nil
}

// AvatarURLPathFor returns the stored avatar path for an address.
func (s *Store) AvatarURLPathFor(ctx context.Context, tx storage.ReadTx, addr ident.Address) (string, error) {
	p, err := s.ProfileFor(ctx, tx, addr)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return p.AvatarURLPath, nil
}

// AvatarDataFor returns cached avatar bytes for an address, if any.
func (s *Store) AvatarDataFor(ctx context.Context, tx storage.ReadTx, addr ident.Address) ([]byte, error) {
	p, err := s.ProfileFor(ctx, tx, addr)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p.AvatarData, nil
}

// HasAvatarData reports whether avatar bytes are cached for an address.
func (s *Store) HasAvatarData(ctx context.Context, tx storage.ReadTx, addr ident.Address) (bool, error) {
	data, err := s.AvatarDataFor(ctx, tx, addr)
	return len(data) > 0, err
}

// Upsert writes a profile through to storage and refreshes the cache.
func (s *Store) Upsert(ctx context.Context, tx storage.WriteTx, p Profile, writer Writer) error {
	if err := s.repo.Upsert(ctx, tx, p, writer); err != nil {
		return err
	}
	s.cachePut(p)
	s.log.WithFields(logrus.Fields{
		"service_id": p.Address.ServiceID,
		"writer":     writer.String(),
	}).Debug("profile upserted")
	return nil
}

// SetProfileKey records a remote profile key (last-writer-wins by fetch
// recency) and drops any stale cache entry.
func (s *Store) SetProfileKey(ctx context.Context, tx storage.WriteTx, id ident.ServiceID, key crypto.ProfileKey, fetchedAt time.Time, writer Writer) error {
	if err := s.repo.SetProfileKey(ctx, tx, id, key, fetchedAt, writer); err != nil {
		return err
	}
	s.cacheDrop(id)
	s.log.WithFields(logrus.Fields{
		"service_id": id,
		"writer":     writer.String(),
	}).Debug("remote profile key updated")
	return nil
}

// SetLocalProfileKey atomically replaces the local profile key. Access keys
// derived from the previous key are invalid from this point: derivation
// always reads the current key.
func (s *Store) SetLocalProfileKey(ctx context.Context, tx storage.WriteTx, key crypto.ProfileKey, writer Writer) error {
	if err := s.repo.SetLocalProfileKey(ctx, tx, key, writer); err != nil {
		return err
	}
	local, err := s.repo.Local(ctx, tx)
	if err == nil {
		s.cachePut(local)
	}
	s.log.WithField("writer", writer.String()).Info("local profile key replaced")
	return nil
}

// Registered filters ids down to currently registered profiles.
func (s *Store) Registered(ctx context.Context, tx storage.ReadTx, ids []ident.ServiceID) ([]ident.ServiceID, error) {
	return s.repo.Registered(ctx, tx, ids)
}

func (s *Store) cachePut(p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cache[p.Address.ServiceID]; !ok && len(s.cache) >= s.capacity {
		s.evictOneLocked()
	}
	s.cache[p.Address.ServiceID] = p
}

func (s *Store) cacheDrop(id ident.ServiceID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, id)
}

func (s *Store) enforceCapacityLocked() {
	for len(s.cache) > s.capacity {
		s.evictOneLocked()
	}
}

// evictOneLocked removes an arbitrary entry. The cache is a recency-free
// bound, not an LRU; eviction order does not matter for correctness.
func (s *Store) evictOneLocked() {
	for id := range s.cache {
		delete(s.cache, id)
		return
	}
}
