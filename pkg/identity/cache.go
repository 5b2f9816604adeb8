package identity

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// CachingResolver wraps a Resolver with a short-lived LRU over Lookup
// results. Authenticate is never cached.
type CachingResolver struct {
	inner Resolver
	cache *lru.LRU[string, *Identity]
}

// NewCachingResolver creates a read-through cache of at most size entries,
// each kept for ttl.
func NewCachingResolver(inner Resolver, size int, ttl time.Duration) *CachingResolver {
	return &CachingResolver{
		inner: inner,
		cache: lru.NewLRU[string, *Identity](size, nil, ttl),
	}
}

// Lookup returns a cached identity when present, consulting the inner
// resolver otherwise. Negative results are not cached so a freshly created
// user becomes visible immediately.
func (c *CachingResolver) Lookup(ctx context.Context, username string) (*Identity, error) {
	if ident, ok := c.cache.Get(username); ok {
		return ident, nil
	}

	ident, err := c.inner.Lookup(ctx, username)
	if err != nil {
		return nil, err
	}

	c.cache.Add(username, ident)
	return ident, nil
}

// Authenticate delegates to the inner resolver and refreshes the cached
// identity on success.
func (c *CachingResolver) Authenticate(ctx context.Context, username, password string) (*Identity, error) {
	ident, err := c.inner.Authenticate(ctx, username, password)
	if err != nil {
		return nil, err
	}

	c.cache.Add(username, ident)
	return ident, nil
}
