package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type cacheEntry struct {
	data       []byte
	expiresAt  time.Time
	insertedAt time.Time
}

// blobCache is a count-bounded TTL cache over immutable blob bytes. When
// full, the entry with the oldest insertion time is evicted; expired
// entries are dropped lazily on get.
type blobCache struct {
	mu         sync.Mutex
	items      map[string]*cacheEntry
	maxEntries int
	ttl        time.Duration
}

func newBlobCache(maxEntries int, ttl time.Duration) *blobCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &blobCache{
		items:      make(map[string]*cacheEntry, maxEntries),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

func (c *blobCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.items, key)
		return nil, false
	}
	return e.data, true
}

func (c *blobCache) set(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if _, ok := c.items[key]; !ok && len(c.items) >= c.maxEntries {
		c.evictOldest()
	}
	c.items[key] = &cacheEntry{data: data, expiresAt: now.Add(c.ttl), insertedAt: now}
}

// evictOldest must be called with c.mu held.
func (c *blobCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	first := true
	for k, e := range c.items {
		if first || e.insertedAt.Before(oldestTime) {
			oldestKey = k
			oldestTime = e.insertedAt
			first = false
		}
	}
	if !first {
		delete(c.items, oldestKey)
	}
}

func (c *blobCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

type readResult struct {
	data   []byte
	bypass bool
}

// CachedStore layers an in-memory cache over a backing store. Blobs above
// MaxBlobBytes bypass the cache; concurrent misses for the same reference
// collapse into one backing read.
type CachedStore struct {
	backing Store
	cache   *blobCache
	group   singleflight.Group
	maxBlob int64
}

// NewCachedStore wraps backing. maxBlobBytes <= 0 means 8 MiB.
func NewCachedStore(backing Store, maxEntries int, ttl time.Duration, maxBlobBytes int64) *CachedStore {
	if maxBlobBytes <= 0 {
		maxBlobBytes = 8 << 20
	}
	return &CachedStore{
		backing: backing,
		cache:   newBlobCache(maxEntries, ttl),
		maxBlob: maxBlobBytes,
	}
}

// Put implements Store. Writes go straight through.
func (s *CachedStore) Put(ctx context.Context, r io.Reader) (string, int64, error) {
	return s.backing.Put(ctx, r)
}

// Open implements Store.
func (s *CachedStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if b, ok := s.cache.get(ref); ok {
		return io.NopCloser(bytes.NewReader(b)), nil
	}

	v, err, _ := s.group.Do(ref, func() (any, error) {
		if b, ok := s.cache.get(ref); ok {
			return readResult{data: b}, nil
		}
		size, err := s.backing.Stat(ctx, ref)
		if err != nil {
			return nil, err
		}
		if size > s.maxBlob {
			return readResult{bypass: true}, nil
		}
		rc, err := s.backing.Open(ctx, ref)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		b, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("failed to read artifact %s: %w", ref, err)
		}
		s.cache.set(ref, b)
		return readResult{data: b}, nil
	})
	if err != nil {
		return nil, err
	}

	res := v.(readResult)
	if res.bypass {
		return s.backing.Open(ctx, ref)
	}
	return io.NopCloser(bytes.NewReader(res.data)), nil
}

// Stat implements Store.
func (s *CachedStore) Stat(ctx context.Context, ref string) (int64, error) {
	if b, ok := s.cache.get(ref); ok {
		return int64(len(b)), nil
	}
	return s.backing.Stat(ctx, ref)
}
