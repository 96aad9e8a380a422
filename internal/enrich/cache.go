package enrich

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// Cache is a concurrent, TTL-aware lookup cache for enrichment results
// (reverse DNS, ASN, GeoIP), backed by ristretto's admission-controlled
// cache. A daemon doing unbounded per-hop lookups benefits from
// ristretto's sampled-LFU eviction, which stays cheap as cache size grows
// instead of degrading with a linear least-recently-used scan on every Set.
type Cache struct {
	data *ristretto.Cache
	ttl  time.Duration
}

// NewCache creates a cache sized for roughly maxSize hot entries, each
// defaulting to ttl unless overridden via SetWithTTL.
func NewCache(maxSize int, ttl time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	data, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(maxSize) * 10,
		MaxCost:     int64(maxSize),
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		// ristretto.NewCache only fails on invalid Config, which the
		// fixed shape above never produces.
		panic("enrich: invalid cache config: " + err.Error())
	}

	return &Cache{data: data, ttl: ttl}
}

// Get retrieves a value from the cache.
func (c *Cache) Get(key string) (interface{}, bool) {
	return c.data.Get(key)
}

// Set stores a value under the cache's default TTL.
func (c *Cache) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value with a custom TTL.
func (c *Cache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	c.data.SetWithTTL(key, value, 1, ttl)
	c.data.Wait()
}

// Delete removes a key from the cache.
func (c *Cache) Delete(key string) {
	c.data.Del(key)
}

// Clear removes all entries from the cache.
func (c *Cache) Clear() {
	c.data.Clear()
}

// Size returns the number of entries ristretto's policy currently tracks.
func (c *Cache) Size() int {
	m := c.data.Metrics
	if m == nil {
		return 0
	}
	return int(m.KeysAdded() - m.KeysEvicted())
}
