package broker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisSessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisSessionStore(client), mr
}

func TestSessionKeyBindsBrokerAndSecret(t *testing.T) {
	key := SessionKey("app1", "tok", "secret1")

	// The same token under a different broker or secret addresses a
	// different session, so a stolen token alone is useless.
	assert.NotEqual(t, key, SessionKey("app2", "tok", "secret1"))
	assert.NotEqual(t, key, SessionKey("app1", "tok", "secret2"))
	assert.Equal(t, key, SessionKey("app1", "tok", "secret1"))
}

func TestMemorySessionStoreLifecycle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewMemorySessionStore(clock)
	ctx := context.Background()

	sess := Session{Token: "tok", BrokerAppID: "app1"}
	require.NoError(t, store.Create(ctx, "k1", sess, time.Minute))

	// Create over a live session fails.
	assert.ErrorIs(t, store.Create(ctx, "k1", sess, time.Minute), ErrSessionExists)

	got, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "app1", got.BrokerAppID)
	assert.Empty(t, got.Username)

	got.Username = "alice@example.com"
	require.NoError(t, store.Update(ctx, "k1", *got))
	got, err = store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Username)

	require.NoError(t, store.Delete(ctx, "k1"))
	_, err = store.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// Deleting again is not an error.
	assert.NoError(t, store.Delete(ctx, "k1"))
}

func TestMemorySessionStoreExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewMemorySessionStore(clock)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, "k1", Session{Token: "tok"}, time.Minute))
	clock.Advance(2 * time.Minute)

	_, err := store.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// An expired entry no longer blocks a fresh attach.
	assert.NoError(t, store.Create(ctx, "k1", Session{Token: "tok2"}, time.Minute))
}

func TestMemorySessionStoreSweep(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewMemorySessionStore(clock)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, "short", Session{Token: "a"}, time.Minute))
	require.NoError(t, store.Create(ctx, "long", Session{Token: "b"}, time.Hour))
	clock.Advance(10 * time.Minute)

	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, 1, store.Len())
}

func TestMemorySessionStoreUpdateMissing(t *testing.T) {
	store := NewMemorySessionStore(nil)
	err := store.Update(context.Background(), "missing", Session{})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisSessionStoreLifecycle(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	sess := Session{Token: "tok", BrokerAppID: "app1"}
	require.NoError(t, store.Create(ctx, "k1", sess, time.Minute))
	assert.ErrorIs(t, store.Create(ctx, "k1", sess, time.Minute), ErrSessionExists)

	got, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "app1", got.BrokerAppID)

	got.Username = "alice@example.com"
	require.NoError(t, store.Update(ctx, "k1", *got))
	got, err = store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Username)

	require.NoError(t, store.Delete(ctx, "k1"))
	_, err = store.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisSessionStoreExpiry(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, "k1", Session{Token: "tok"}, time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisSessionStoreUpdateMissing(t *testing.T) {
	store, _ := newTestRedisStore(t)
	err := store.Update(context.Background(), "missing", Session{})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisSessionStoreCorruptEntry(t *testing.T) {
	store, mr := newTestRedisStore(t)
	require.NoError(t, mr.Set(sessionKeyPrefix+"bad", "{not json"))

	_, err := store.Get(context.Background(), "bad")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionNotFound)

	// The corrupt entry was dropped.
	assert.False(t, mr.Exists(sessionKeyPrefix+"bad"))
}
