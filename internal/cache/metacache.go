// Package cache provides the TTL'd subreddit metadata cache. The cache is
// lossy (LRU eviction): a miss is always recoverable by preloading the row
// from the store, so eviction can never violate curation preservation.
package cache

import (
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/onnwee/social-harvest/backend/internal/metrics"
	"github.com/onnwee/social-harvest/backend/internal/store"
)

// MetaCache caches manually curated subreddit fields across upserts.
type MetaCache struct {
	cache      *ristretto.Cache
	defaultTTL time.Duration
}

type metaItem struct {
	meta      store.SubredditMeta
	expiresAt time.Time
}

// NewMeta creates a metadata cache bounded by maxEntries with the given TTL.
func NewMeta(maxEntries int64, defaultTTL time.Duration) (*MetaCache, error) {
	numCounters := maxEntries * 10
	if numCounters < 1000 {
		numCounters = 1000
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &MetaCache{cache: c, defaultTTL: defaultTTL}, nil
}

// Get returns the cached metadata for a subreddit name, if present and fresh.
func (c *MetaCache) Get(name string) (store.SubredditMeta, bool) {
	val, found := c.cache.Get(name)
	if !found {
		metrics.MetaCacheMisses.Inc()
		return store.SubredditMeta{}, false
	}
	item, ok := val.(*metaItem)
	if !ok || time.Now().After(item.expiresAt) {
		c.cache.Del(name)
		metrics.MetaCacheMisses.Inc()
		return store.SubredditMeta{}, false
	}
	metrics.MetaCacheHits.Inc()
	return item.meta, true
}

// Set stores metadata for a subreddit name with the default TTL.
func (c *MetaCache) Set(name string, meta store.SubredditMeta) {
	c.cache.Set(name, &metaItem{meta: meta, expiresAt: time.Now().Add(c.defaultTTL)}, 1)
	// Ristretto applies sets asynchronously; a same-goroutine read-after-write
	// needs the buffers drained.
	c.cache.Wait()
}

// Delete removes a name from the cache.
func (c *MetaCache) Delete(name string) {
	c.cache.Del(name)
}

// Clear drops every entry.
func (c *MetaCache) Clear() {
	c.cache.Clear()
}
