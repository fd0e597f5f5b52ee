// Package cache holds a small in-memory response cache for registry
// reads. The active model version is fetched by every client before it
// begins executions, so those responses are kept for a short TTL and
// dropped eagerly when a promotion event lands.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	value      []byte
	expiresAt  time.Time
	insertedAt time.Time
}

// Cache is a thread-safe TTL cache with max-size eviction. When full,
// the oldest entry by insertion time makes room; expired entries are
// dropped lazily on Get.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	maxEntries int
	ttl        time.Duration
}

// New creates a cache holding at most maxEntries values for ttl each.
func New(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{
		entries:    make(map[string]*entry, maxEntries),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

// Get returns the cached value for key, or false when missing or
// expired.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key, evicting the oldest entry when full.
func (c *Cache) Set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[key] = &entry{
		value:      value,
		expiresAt:  now.Add(c.ttl),
		insertedAt: now,
	}
}

// InvalidateAll drops every cached response.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry, c.maxEntries)
}

// Len returns the number of entries, counting expired ones not yet
// dropped.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictOldest removes the entry with the oldest insertion time. Called
// with c.mu held.
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for k, e := range c.entries {
		if first || e.insertedAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.insertedAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}
