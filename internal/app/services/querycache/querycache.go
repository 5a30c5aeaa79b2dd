// Package querycache implements the Query Cache (spec.md §4.4): a
// size-bounded, TTL-expiring cache of GeneratedQueries keyed by
// QueryCacheKey. Grounded on infrastructure/cache/cache.go's CacheConfig
// shape, but backed by github.com/hashicorp/golang-lru/v2 for actual
// size-bounded eviction (the teacher's own Cache tracks a MaxSize field
// without enforcing it).
package querycache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kevinhagel/fundingdiscovery/infrastructure/metrics"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/model"
)

// Stats reports cumulative cache activity.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

type entry struct {
	queries   model.GeneratedQueries
	expiresAt time.Time
}

// Cache is the Query Cache service.
type Cache struct {
	mu        sync.Mutex
	lru       *lru.Cache[string, *entry]
	ttl       time.Duration
	metrics   *metrics.Metrics
	hits      int64
	misses    int64
	evictions int64
	clock     func() time.Time
}

// New constructs a Cache bounded to maxSize entries with the given TTL.
func New(maxSize int, ttl time.Duration, m *metrics.Metrics) (*Cache, error) {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	c := &Cache{ttl: ttl, metrics: m, clock: time.Now}
	l, err := lru.NewWithEvict[string, *entry](maxSize, func(string, *entry) {
		// The callback runs synchronously inside Get/Set/Clear, which
		// already hold c.mu.
		c.evictions++
	})
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

// Get returns the cached GeneratedQueries for key, if present and unexpired.
func (c *Cache) Get(key model.QueryCacheKey) (model.GeneratedQueries, bool) {
	k := key.String()
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(k)
	if !ok {
		c.misses++
		if c.metrics != nil {
			c.metrics.RecordCacheMiss()
		}
		return model.GeneratedQueries{}, false
	}
	if c.clock().After(e.expiresAt) {
		c.lru.Remove(k)
		c.misses++
		if c.metrics != nil {
			c.metrics.RecordCacheMiss()
		}
		return model.GeneratedQueries{}, false
	}
	c.hits++
	if c.metrics != nil {
		c.metrics.RecordCacheHit()
	}
	result := e.queries
	result.FromCache = true
	return result, true
}

// Set stores queries under key with the cache's configured TTL.
func (c *Cache) Set(key model.QueryCacheKey, queries model.GeneratedQueries) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key.String(), &entry{queries: queries, expiresAt: c.clock().Add(c.ttl)})
}

// Clear empties the cache, per spec.md §4.4's clear() operation.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Stats reports cumulative hit/miss/eviction counts and current size.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      c.lru.Len(),
	}
}
