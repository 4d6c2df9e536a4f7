package identity

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	defaultDirectoryCacheTTL     = 5 * time.Minute
	defaultDirectoryCacheCleanup = 30 * time.Second
)

// CachedDirectory memoizes Resolve results of another Directory.
//
// Mappings never change once created, so a stale hit is still correct; the
// TTL only bounds memory.
type CachedDirectory struct {
	inner Directory
	cache *cache.Cache
}

// NewCachedDirectory wraps inner. ttl <= 0 selects the default (5m).
func NewCachedDirectory(inner Directory, ttl time.Duration) *CachedDirectory {
	if ttl <= 0 {
		ttl = defaultDirectoryCacheTTL
	}
	return &CachedDirectory{
		inner: inner,
		cache: cache.New(ttl, defaultDirectoryCacheCleanup),
	}
}

func (d *CachedDirectory) Resolve(ctx context.Context, p Profile) (string, error) {
	if err := p.Validate("identity.CachedDirectory.Resolve"); err != nil {
		return "", err
	}

	key := directoryKey(p)
	if v, ok := d.cache.Get(key); ok {
		if id, ok := v.(string); ok {
			return id, nil
		}
	}

	id, err := d.inner.Resolve(ctx, p)
	if err != nil {
		return "", err
	}
	d.cache.Set(key, id, cache.DefaultExpiration)
	return id, nil
}

// Len returns the number of cached mappings (including expired, not yet swept).
func (d *CachedDirectory) Len() int { return d.cache.ItemCount() }
