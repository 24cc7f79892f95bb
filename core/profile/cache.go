package profile

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

const (
	DefaultCacheTTL  = 5 * time.Minute
	DefaultCacheSize = 512
)

// CacheKey identifies a principal for profile caching.
type CacheKey struct {
	Email       string
	PrincipalID string
}

type cacheEntry struct {
	profile   *Profile // nil: not found
	fetchedAt time.Time
}

// Cache memoizes profile lookups (including misses) for a fixed TTL.
// An entry is fresh while now - fetchedAt < TTL.
type Cache struct {
	ttl     time.Duration
	entries *lru.Cache[CacheKey, cacheEntry]
	nowFunc func() time.Time // mockable

	mu    sync.Mutex
	epoch uint64 // bumped by Clear
}

// NewCache returns a Cache holding at most size entries, each fresh for ttl.
// Non-positive values select the defaults.
func NewCache(size int, ttl time.Duration) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	entries, err := lru.New[CacheKey, cacheEntry](size)
	if err != nil {
		return nil, errors.Wrap(err, "creating profile cache")
	}
	return &Cache{ttl: ttl, entries: entries, nowFunc: time.Now}, nil
}

// Get returns the cached profile for key and whether a fresh entry exists.
// A fresh "not found" entry returns (nil, true).
func (c *Cache) Get(key CacheKey) (*Profile, bool) {
	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	if c.nowFunc().Sub(entry.fetchedAt) >= c.ttl {
		c.entries.Remove(key)
		return nil, false
	}
	return entry.profile, true
}

// Set stores p (nil for "not found") as fetched at fetchedAt.
func (c *Cache) Set(key CacheKey, p *Profile, fetchedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(key, cacheEntry{profile: p, fetchedAt: fetchedAt})
}

// Epoch identifies the current cache generation. Clear starts a new one.
func (c *Cache) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// SetInEpoch stores p like Set, unless the cache was cleared since epoch.
// It reports whether the entry was stored.
func (c *Cache) SetInEpoch(epoch uint64, key CacheKey, p *Profile, fetchedAt time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return false
	}
	c.entries.Add(key, cacheEntry{profile: p, fetchedAt: fetchedAt})
	return true
}

// Clear drops every entry. Lookups started before the call can no longer store their result.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.entries.Purge()
}

func (c *Cache) Len() int {
	return c.entries.Len()
}

func (c *Cache) now() time.Time {
	return c.nowFunc()
}
