package cache

import (
	"context"
	"strings"
	"time"

	goCache "github.com/patrickmn/go-cache"
	"github.com/tokenrail/tokenrail/internal/config"
)

// DefaultExpiration is the default expiration time for cache entries
const DefaultExpiration = 30 * time.Minute

// DefaultCleanupInterval is how often expired items are removed from the cache
const DefaultCleanupInterval = 1 * time.Hour

// InMemoryCache implements the Cache interface using github.com/patrickmn/go-cache
type InMemoryCache struct {
	cache *goCache.Cache
	cfg   *config.Configuration
}

// NewInMemoryCache creates a new InMemoryCache instance. When caching is
// disabled in config every operation is a silent no-op, so callers never
// need to branch.
func NewInMemoryCache(cfg *config.Configuration) *InMemoryCache {
	return &InMemoryCache{
		cache: goCache.New(DefaultExpiration, DefaultCleanupInterval),
		cfg:   cfg,
	}
}

// Get retrieves a value from the cache
func (c *InMemoryCache) Get(_ context.Context, key string) (interface{}, bool) {
	if !c.cfg.Cache.Enabled {
		return nil, false
	}
	return c.cache.Get(key)
}

// Set adds a value to the cache with the specified expiration
func (c *InMemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) {
	if !c.cfg.Cache.Enabled {
		return
	}
	c.cache.Set(key, value, expiration)
}

// Delete removes a key from the cache
func (c *InMemoryCache) Delete(_ context.Context, key string) {
	if !c.cfg.Cache.Enabled {
		return
	}
	c.cache.Delete(key)
}

// DeleteByPrefix removes all keys with the given prefix
func (c *InMemoryCache) DeleteByPrefix(_ context.Context, prefix string) {
	if !c.cfg.Cache.Enabled {
		return
	}
	items := c.cache.Items()
	for k := range items {
		if strings.HasPrefix(k, prefix) {
			c.cache.Delete(k)
		}
	}
}

// Flush removes all items from the cache
func (c *InMemoryCache) Flush(_ context.Context) {
	if !c.cfg.Cache.Enabled {
		return
	}
	c.cache.Flush()
}
