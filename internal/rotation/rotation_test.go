package rotation_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelchat/kestrel/internal/crypto"
	"github.com/kestrelchat/kestrel/internal/ident"
	"github.com/kestrelchat/kestrel/internal/profile"
	"github.com/kestrelchat/kestrel/internal/profile/profiletest"
	"github.com/kestrelchat/kestrel/internal/request"
	"github.com/kestrelchat/kestrel/internal/rotation"
	"github.com/kestrelchat/kestrel/internal/storage"
	"github.com/kestrelchat/kestrel/internal/transport"
	"github.com/kestrelchat/kestrel/internal/whitelist"
	"github.com/kestrelchat/kestrel/internal/whitelist/whitelisttest"
)

// fakeTxRunner mimics DB transaction semantics over the in-memory fakes:
// it counts commits and rollbacks so tests can assert ordering against
// the sender.
type fakeTxRunner struct {
	commits   int
	rollbacks int
}

func (r *fakeTxRunner) InWriteTx(_ context.Context, fn func(tx storage.WriteTx) error) error {
	if err := fn(nil); err != nil {
		r.rollbacks++
		return err
	}
	r.commits++
	return nil
}

// fakeSender records descriptors and fails on demand. It also snapshots
// the runner's commit count at send time, so tests can prove the key
// swap committed before the upload started.
type fakeSender struct {
	sent          []request.Descriptor
	commitsAtSend []int
	runner        *fakeTxRunner
	fail          bool
}

func (s *fakeSender) Send(_ context.Context, d request.Descriptor) (*transport.Response, error) {
	s.sent = append(s.sent, d)
	if s.runner != nil {
		s.commitsAtSend = append(s.commitsAtSend, s.runner.commits)
	}
	if s.fail {
		return nil, errors.New("connection reset")
	}
	return &transport.Response{Status: 200}, nil
}

type fixture struct {
	engine   *rotation.Engine
	profiles *profiletest.FakeRepository
	wl       *whitelist.Engine
	sender   *fakeSender
	runner   *fakeTxRunner
	localKey crypto.ProfileKey
	local    ident.Address
}

func newFixture(t *testing.T, predicate rotation.ExposurePredicate) *fixture {
	t.Helper()
	profiles := profiletest.NewFakeRepository()
	wl := whitelist.NewEngine(whitelisttest.NewFakeRepository(), profiles)
	runner := &fakeTxRunner{}
	sender := &fakeSender{runner: runner}

	key, err := crypto.GenerateProfileKey()
	require.NoError(t, err)
	local := ident.NewAddress(ident.NewServiceID())
	given, err := crypto.EncryptName(key, "Ada")
	require.NoError(t, err)
	family, err := crypto.EncryptName(key, "Lovelace")
	require.NoError(t, err)
	profiles.Seed(profile.Profile{
		Address:       local,
		IsLocal:       true,
		Key:           &key,
		GivenNameEnc:  given,
		FamilyNameEnc: family,
		Registered:    true,
	})

	return &fixture{
		engine:   rotation.NewEngine(runner, profiles, wl, sender, predicate),
		profiles: profiles,
		wl:       wl,
		sender:   sender,
		runner:   runner,
		localKey: key,
		local:    local,
	}
}

func (f *fixture) localProfile(t *testing.T) profile.Profile {
	t.Helper()
	p, err := f.profiles.Local(context.Background(), nil)
	require.NoError(t, err)
	return p
}

func TestRecipientHideRotatesAndUnwhitelists(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	hidden := ident.NewAddress(ident.NewServiceID())
	require.NoError(t, f.wl.AddAddress(ctx, nil, hidden, profile.WriterLocalUser))

	require.NoError(t, f.engine.RotateForRecipientHide(ctx, hidden))

	ok, err := f.wl.IsAddressWhitelisted(ctx, nil, hidden)
	require.NoError(t, err)
	assert.False(t, ok, "hiding revokes whitelist membership")

	p := f.localProfile(t)
	require.NotNil(t, p.Key)
	assert.NotEqual(t, f.localKey, *p.Key, "a fresh key replaces the exposed one")
	assert.Equal(t, rotation.Stable, f.engine.State())
	assert.EqualValues(t, 1, f.engine.Generation())
	assert.Contains(t, f.profiles.Writers, profile.WriterReupload)
}

func TestRotationPreservesNames(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	require.NoError(t, f.engine.RotateForRecipientHide(ctx, ident.NewAddress(ident.NewServiceID())))

	p := f.localProfile(t)
	require.NotNil(t, p.Key)
	given, err := crypto.DecryptName(*p.Key, p.GivenNameEnc)
	require.NoError(t, err)
	family, err := crypto.DecryptName(*p.Key, p.FamilyNameEnc)
	require.NoError(t, err)
	assert.Equal(t, "Ada", given)
	assert.Equal(t, "Lovelace", family)

	_, err = crypto.DecryptName(f.localKey, p.GivenNameEnc)
	assert.ErrorIs(t, err, crypto.ErrDecryptionFailed, "old key no longer opens the name")
}

func TestRotationUploadsSealedName(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	require.NoError(t, f.engine.RotateForRecipientHide(ctx, ident.NewAddress(ident.NewServiceID())))

	require.Len(t, f.sender.sent, 1)
	d := f.sender.sent[0]
	assert.Equal(t, "PUT", d.Method)
	assert.True(t, strings.HasPrefix(d.Path, "/v1/profile/name/"))
	assert.True(t, d.Auth.IsIdentified())
}

func TestKeySwapCommitsBeforeUpload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	require.NoError(t, f.engine.ForceRotate(ctx))

	require.Len(t, f.sender.commitsAtSend, 1)
	assert.Equal(t, 1, f.sender.commitsAtSend[0], "the swap transaction commits before the upload starts")
}

func TestFailedUploadLeavesRotationPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.sender.fail = true

	err := f.engine.RotateForRecipientHide(ctx, ident.NewAddress(ident.NewServiceID()))
	require.ErrorIs(t, err, rotation.ErrUploadFailed)

	assert.Equal(t, rotation.RotationPending, f.engine.State())

	p := f.localProfile(t)
	require.NotNil(t, p.Key)
	assert.NotEqual(t, f.localKey, *p.Key, "the local swap sticks even when the upload fails")
	assert.Equal(t, 1, f.runner.commits, "the swap transaction committed despite the upload failure")
	assert.Zero(t, f.runner.rollbacks, "the upload failure never reaches the transaction scope")
}

func TestRetryPendingUploadReusesBody(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.sender.fail = true

	require.ErrorIs(t, f.engine.RotateForRecipientHide(ctx, ident.NewAddress(ident.NewServiceID())), rotation.ErrUploadFailed)
	firstKey := *f.localProfile(t).Key

	f.sender.fail = false
	require.NoError(t, f.engine.RetryPendingUpload(ctx))

	assert.Equal(t, rotation.Stable, f.engine.State())
	assert.EqualValues(t, 1, f.engine.Generation(), "retry re-sends, it does not rotate again")
	assert.Equal(t, firstKey, *f.localProfile(t).Key)

	require.Len(t, f.sender.sent, 2)
	assert.Equal(t, f.sender.sent[0].Path, f.sender.sent[1].Path, "retry carries the same sealed body")
}

func TestRetryWithNothingPending(t *testing.T) {
	f := newFixture(t, nil)
	assert.ErrorIs(t, f.engine.RetryPendingUpload(context.Background()), rotation.ErrNothingPending)
}

func TestNewRotationSupersedesPendingRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.sender.fail = true

	require.ErrorIs(t, f.engine.RotateForRecipientHide(ctx, ident.NewAddress(ident.NewServiceID())), rotation.ErrUploadFailed)
	staleBody := f.sender.sent[0].Path

	f.sender.fail = false
	require.NoError(t, f.engine.RotateForRecipientHide(ctx, ident.NewAddress(ident.NewServiceID())))
	assert.Equal(t, rotation.Stable, f.engine.State())
	assert.EqualValues(t, 2, f.engine.Generation())
	assert.NotEqual(t, staleBody, f.sender.sent[1].Path, "the superseding rotation uploads its own body")

	assert.ErrorIs(t, f.engine.RetryPendingUpload(ctx), rotation.ErrNothingPending, "the stale retry never fires")
}

func TestRotateIfNeededAdditionsNeverRotate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	rotated, err := f.engine.RotateIfNeeded(ctx, rotation.Delta{
		Added: []ident.Address{ident.NewAddress(ident.NewServiceID())},
	})
	require.NoError(t, err)
	assert.False(t, rotated)
	assert.EqualValues(t, 0, f.engine.Generation())
	assert.Empty(t, f.sender.sent)
}

func TestRotateIfNeededRemovalRotates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	rotated, err := f.engine.RotateIfNeeded(ctx, rotation.Delta{
		Removed: []ident.Address{ident.NewAddress(ident.NewServiceID())},
	})
	require.NoError(t, err)
	assert.True(t, rotated)
	assert.EqualValues(t, 1, f.engine.Generation())
}

func TestRotateIfNeededCustomPredicate(t *testing.T) {
	ctx := context.Background()
	never := func(rotation.Delta) bool { return false }
	f := newFixture(t, never)

	rotated, err := f.engine.RotateIfNeeded(ctx, rotation.Delta{
		Removed: []ident.Address{ident.NewAddress(ident.NewServiceID())},
	})
	require.NoError(t, err)
	assert.False(t, rotated)
}

func TestGroupDepartureWithoutBlockedMember(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	g := testGroupID(t)
	require.NoError(t, f.wl.AddGroup(ctx, nil, g, profile.WriterLocalUser))

	require.NoError(t, f.engine.RotateForGroupDeparture(ctx, g, false))

	ok, err := f.wl.IsGroupWhitelisted(ctx, nil, g)
	require.NoError(t, err)
	assert.False(t, ok, "departure always drops the whitelist entry")
	assert.EqualValues(t, 0, f.engine.Generation(), "no blocked member, no rotation")
}

func TestGroupDepartureWithBlockedMember(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	g := testGroupID(t)
	require.NoError(t, f.wl.AddGroup(ctx, nil, g, profile.WriterLocalUser))

	require.NoError(t, f.engine.RotateForGroupDeparture(ctx, g, true))
	assert.EqualValues(t, 1, f.engine.Generation())
}

func TestRotateWithoutLocalProfile(t *testing.T) {
	profiles := profiletest.NewFakeRepository()
	wl := whitelist.NewEngine(whitelisttest.NewFakeRepository(), profiles)
	runner := &fakeTxRunner{}
	engine := rotation.NewEngine(runner, profiles, wl, &fakeSender{}, nil)

	err := engine.RotateForRecipientHide(context.Background(), ident.NewAddress(ident.NewServiceID()))
	assert.ErrorIs(t, err, rotation.ErrNoLocalProfile)
	assert.Equal(t, 1, runner.rollbacks, "a failed swap rolls back instead of committing")
}

func TestRotationThroughStoreRefreshesCache(t *testing.T) {
	ctx := context.Background()
	profiles := profiletest.NewFakeRepository()
	store := profile.NewStore(profiles)
	wl := whitelist.NewEngine(whitelisttest.NewFakeRepository(), profiles)
	runner := &fakeTxRunner{}
	sender := &fakeSender{runner: runner}

	key, err := crypto.GenerateProfileKey()
	require.NoError(t, err)
	local := ident.NewAddress(ident.NewServiceID())
	profiles.Seed(profile.Profile{Address: local, IsLocal: true, Key: &key, Registered: true})

	// Populate the store's read cache with the pre-rotation profile.
	_, err = store.ProfileFor(ctx, nil, local)
	require.NoError(t, err)

	engine := rotation.NewEngine(runner, store, wl, sender, nil)
	require.NoError(t, engine.ForceRotate(ctx))

	cached, err := store.ProfileFor(ctx, nil, local)
	require.NoError(t, err)
	require.NotNil(t, cached.Key)
	assert.NotEqual(t, key, *cached.Key, "the cached profile carries the rotated key")
}

func testGroupID(t *testing.T) ident.GroupID {
	t.Helper()
	raw := make([]byte, 32)
	raw[0] = 0x11
	g, err := ident.GroupIDFromBytes(raw)
	require.NoError(t, err)
	return g
}
