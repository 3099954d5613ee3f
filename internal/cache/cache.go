// Package cache provides a small in-memory TTL cache for read-endpoint
// responses, keyed by request identity. Expired entries are kept until
// evicted so they can be served as a stale fallback when a refresh fails.
package cache

import (
	"sync"
	"time"
)

// Cache is an in-memory TTL cache with a bounded item count.
type Cache struct {
	mu       sync.RWMutex
	items    map[string]cacheItem
	ttl      time.Duration
	maxItems int
}

type cacheItem struct {
	value     interface{}
	storedAt  time.Time
	expiresAt time.Time
}

// Config holds cache configuration.
type Config struct {
	TTL      time.Duration
	MaxItems int
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		TTL:      30 * time.Second,
		MaxItems: 200,
	}
}

// New creates a new cache with the given configuration.
func New(cfg Config) *Cache {
	if cfg.TTL == 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.MaxItems == 0 {
		cfg.MaxItems = 200
	}

	return &Cache{
		items:    make(map[string]cacheItem),
		ttl:      cfg.TTL,
		maxItems: cfg.MaxItems,
	}
}

// Get retrieves a fresh item from the cache.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[key]
	if !ok {
		return nil, false
	}

	if time.Now().After(item.expiresAt) {
		return nil, false
	}

	return item.value, true
}

// GetStale retrieves an item regardless of expiry. Used as a fallback when
// refreshing an expired entry fails.
func (c *Cache) GetStale(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[key]
	if !ok {
		return nil, false
	}
	return item.value, true
}

// Set stores an item in the cache.
func (c *Cache) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores an item with a custom TTL.
func (c *Cache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.items) >= c.maxItems {
		c.evictOldest()
	}

	now := time.Now()
	c.items[key] = cacheItem{
		value:     value,
		storedAt:  now,
		expiresAt: now.Add(ttl),
	}
}

// Delete removes an item from the cache.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear removes all items from the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]cacheItem)
}

// Len returns the number of items in the cache.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// GetOrFetch returns the cached value for key, or calls fetch and stores the
// result. When fetch fails and a stale entry exists, the stale value is
// returned instead of the error; the second return value reports staleness.
func (c *Cache) GetOrFetch(key string, fetch func() (interface{}, error)) (interface{}, bool, error) {
	if v, ok := c.Get(key); ok {
		return v, false, nil
	}

	v, err := fetch()
	if err == nil {
		c.Set(key, v)
		return v, false, nil
	}

	if stale, ok := c.GetStale(key); ok {
		return stale, true, nil
	}

	return nil, false, err
}

// evictOldest removes the oldest 10% of items (must be called with lock held).
func (c *Cache) evictOldest() {
	toRemove := c.maxItems / 10
	if toRemove < 1 {
		toRemove = 1
	}

	var oldest []string
	var oldestTimes []time.Time

	for key, item := range c.items {
		if len(oldest) < toRemove {
			oldest = append(oldest, key)
			oldestTimes = append(oldestTimes, item.storedAt)
		} else {
			for i, t := range oldestTimes {
				if item.storedAt.Before(t) {
					oldest[i] = key
					oldestTimes[i] = item.storedAt
					break
				}
			}
		}
	}

	for _, key := range oldest {
		delete(c.items, key)
	}
}
