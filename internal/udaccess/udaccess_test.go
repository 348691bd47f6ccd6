package udaccess_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelchat/kestrel/internal/crypto"
	"github.com/kestrelchat/kestrel/internal/ident"
	"github.com/kestrelchat/kestrel/internal/profile"
	"github.com/kestrelchat/kestrel/internal/profile/profiletest"
	"github.com/kestrelchat/kestrel/internal/udaccess"
	"github.com/kestrelchat/kestrel/internal/whitelist"
	"github.com/kestrelchat/kestrel/internal/whitelist/whitelisttest"
)

type fixture struct {
	resolver *udaccess.Resolver
	engine   *whitelist.Engine
	profiles *profiletest.FakeRepository
}

func newFixture() *fixture {
	profiles := profiletest.NewFakeRepository()
	engine := whitelist.NewEngine(whitelisttest.NewFakeRepository(), profiles)
	return &fixture{
		resolver: udaccess.NewResolver(engine, profiles),
		engine:   engine,
		profiles: profiles,
	}
}

func (f *fixture) addRecipient(t *testing.T, whitelisted, withKey bool) ident.Address {
	t.Helper()
	ctx := context.Background()
	addr := ident.NewAddress(ident.NewServiceID())
	p := profile.Profile{Address: addr, Registered: true}
	if withKey {
		key, err := crypto.GenerateProfileKey()
		require.NoError(t, err)
		p.Key = &key
	}
	f.profiles.Seed(p)
	if whitelisted {
		require.NoError(t, f.engine.AddAddress(ctx, nil, addr, profile.WriterTests))
	}
	return addr
}

func TestAccessKeyForEligibleRecipient(t *testing.T) {
	f := newFixture()
	addr := f.addRecipient(t, true, true)

	key, err := f.resolver.AccessKeyFor(context.Background(), nil, addr)
	require.NoError(t, err)
	assert.False(t, key.IsZero())
}

func TestAccessKeyForNotWhitelisted(t *testing.T) {
	f := newFixture()
	addr := f.addRecipient(t, false, true)

	_, err := f.resolver.AccessKeyFor(context.Background(), nil, addr)
	assert.ErrorIs(t, err, udaccess.ErrNoAccessKey)
}

func TestAccessKeyForMissingProfileKey(t *testing.T) {
	f := newFixture()
	addr := f.addRecipient(t, true, false)

	_, err := f.resolver.AccessKeyFor(context.Background(), nil, addr)
	assert.ErrorIs(t, err, udaccess.ErrNoAccessKey)
}

func TestAccessKeyForUnknownProfile(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	addr := ident.NewAddress(ident.NewServiceID())
	require.NoError(t, f.engine.AddAddress(ctx, nil, addr, profile.WriterTests))

	_, err := f.resolver.AccessKeyFor(ctx, nil, addr)
	assert.ErrorIs(t, err, udaccess.ErrNoAccessKey)
}

func TestAccessKeyDeterministic(t *testing.T) {
	f := newFixture()
	addr := f.addRecipient(t, true, true)
	ctx := context.Background()

	first, err := f.resolver.AccessKeyFor(ctx, nil, addr)
	require.NoError(t, err)
	second, err := f.resolver.AccessKeyFor(ctx, nil, addr)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCompositeAccessKey(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.addRecipient(t, true, true)
	b := f.addRecipient(t, true, true)

	composite, err := f.resolver.CompositeAccessKeyFor(ctx, nil, []ident.Address{a, b})
	require.NoError(t, err)

	keyA, err := f.resolver.AccessKeyFor(ctx, nil, a)
	require.NoError(t, err)
	keyB, err := f.resolver.AccessKeyFor(ctx, nil, b)
	require.NoError(t, err)
	expected, err := crypto.CombineAccessKeys([]crypto.AccessKey{keyA, keyB})
	require.NoError(t, err)
	assert.Equal(t, expected, composite)
}

func TestCompositeAccessKeyOneIneligible(t *testing.T) {
	f := newFixture()
	a := f.addRecipient(t, true, true)
	b := f.addRecipient(t, true, false)

	_, err := f.resolver.CompositeAccessKeyFor(context.Background(), nil, []ident.Address{a, b})
	assert.ErrorIs(t, err, udaccess.ErrNoAccessKey)
}

func TestCompositeAccessKeyNoRecipients(t *testing.T) {
	f := newFixture()
	_, err := f.resolver.CompositeAccessKeyFor(context.Background(), nil, nil)
	assert.ErrorIs(t, err, udaccess.ErrNoAccessKey)
}
