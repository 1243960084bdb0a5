package resolver

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// expiryMargin is subtracted from a link's remaining validity before caching
// so a cached link is never handed out moments before the CDN rejects it.
const expiryMargin = 30 * time.Second

// CachedResolver wraps a Resolver with a TTL cache keyed by share link, so a
// retry inside the link's validity window skips a resolve round-trip (and a
// pacer wait slot is not wasted re-resolving the same file).
type CachedResolver struct {
	inner Resolver
	cache *gocache.Cache
}

// NewCachedResolver wraps inner with a TTL cache.
// Parameters:
//   - inner: the resolver performing actual resolutions.
// Returns:
//   - *CachedResolver: caching wrapper.
func NewCachedResolver(inner Resolver) *CachedResolver {
	return &CachedResolver{
		inner: inner,
		cache: gocache.New(defaultLinkTTL, time.Minute),
	}
}

// Resolve returns a cached link when present and still valid, otherwise
// delegates to the inner resolver and caches the result until shortly before
// it expires. Failures are not cached.
func (c *CachedResolver) Resolve(ctx context.Context, link string) (*ResolvedLink, error) {
	if hit, ok := c.cache.Get(link); ok {
		return hit.(*ResolvedLink), nil
	}

	resolved, err := c.inner.Resolve(ctx, link)
	if err != nil {
		return nil, err
	}

	ttl := gocache.DefaultExpiration
	if !resolved.ExpiresAt.IsZero() {
		remaining := time.Until(resolved.ExpiresAt) - expiryMargin
		if remaining <= 0 {
			return resolved, nil
		}
		ttl = remaining
	}
	c.cache.Set(link, resolved, ttl)
	return resolved, nil
}

// Invalidate drops the cached link for a share link, used after a transfer
// discovers the CDN URL has gone stale.
func (c *CachedResolver) Invalidate(link string) {
	c.cache.Delete(link)
}
