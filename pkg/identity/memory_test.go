package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryResolver(t *testing.T) {
	r := NewMemoryResolver()
	require.NoError(t, r.AddUser(Identity{Email: "alice@example.com", DisplayName: "Alice Liddell", Roles: []string{"admin"}}, "hunter2"))

	ctx := context.Background()

	ident, err := r.Lookup(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Alice Liddell", ident.DisplayName)

	_, err = r.Lookup(ctx, "ghost@example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	ident, err = r.Authenticate(ctx, "alice@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, []string{"admin"}, ident.Roles)

	_, err = r.Authenticate(ctx, "alice@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = r.Authenticate(ctx, "ghost@example.com", "hunter2")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSeededResolver(t *testing.T) {
	r := NewSeededResolver()

	ident, err := r.Authenticate(context.Background(), "alice@example.com", "password")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", ident.Email)
}

func TestMemoryResolverCancelledContext(t *testing.T) {
	r := NewSeededResolver()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Lookup(ctx, "alice@example.com")
	assert.Error(t, err)
}

func TestCachingResolver(t *testing.T) {
	inner := NewMemoryResolver()
	require.NoError(t, inner.AddUser(Identity{Email: "alice@example.com", DisplayName: "Alice Liddell"}, "hunter2"))

	c := NewCachingResolver(inner, 16, time.Minute)
	ctx := context.Background()

	ident, err := c.Lookup(ctx, "alice@example.com")
	require.NoError(t, err)

	// Mutate the backing store; the cached snapshot should still be served.
	require.NoError(t, inner.AddUser(Identity{Email: "alice@example.com", DisplayName: "Renamed"}, "hunter2"))
	cached, err := c.Lookup(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, ident.DisplayName, cached.DisplayName)

	// Misses are not cached.
	_, err = c.Lookup(ctx, "ghost@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, inner.AddUser(Identity{Email: "ghost@example.com", DisplayName: "Ghost"}, "boo"))
	found, err := c.Lookup(ctx, "ghost@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Ghost", found.DisplayName)

	// Authenticate refreshes the cache.
	_, err = c.Authenticate(ctx, "alice@example.com", "hunter2")
	require.NoError(t, err)
	refreshed, err := c.Lookup(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", refreshed.DisplayName)
}
