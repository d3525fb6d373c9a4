package relay

import (
	"context"
	"sync"
	"time"
)

// Cache stores content handles for rendered previews.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, handle string) error
}

type cacheEntry struct {
	handle  string
	expires time.Time
}

// MemoryCache is a TTL cache bounded by entry count.
type MemoryCache struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu    sync.RWMutex
	items map[string]cacheEntry
}

// NewMemoryCache returns a cache that keeps handles for ttl and holds at most maxEntries.
func NewMemoryCache(ttl time.Duration, maxEntries int) *MemoryCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if maxEntries <= 0 {
		maxEntries = 512
	}
	return &MemoryCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		items:      make(map[string]cacheEntry),
	}
}

// Get returns a live handle for key.
func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	now := c.now()

	c.mu.RLock()
	entry, ok := c.items[key]
	c.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		return entry.handle, true, nil
	}
	return "", false, nil
}

// Set stores handle under key, evicting expired entries and then the entry
// closest to expiry when the cache is full.
func (c *MemoryCache) Set(_ context.Context, key, handle string) error {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.items[key] = cacheEntry{handle: handle, expires: now.Add(c.ttl)}
	return nil
}

// Len reports the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *MemoryCache) evictLocked(now time.Time) {
	var (
		oldestKey string
		oldest    time.Time
	)
	for key, entry := range c.items {
		if !now.Before(entry.expires) {
			delete(c.items, key)
			continue
		}
		if oldestKey == "" || entry.expires.Before(oldest) {
			oldestKey = key
			oldest = entry.expires
		}
	}
	if len(c.items) >= c.maxEntries && oldestKey != "" {
		delete(c.items, oldestKey)
	}
}
