package ldap

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/isometry/dirsearch/internal/table"
)

// DefaultCacheSize bounds the number of filters a ResultCache keeps.
const DefaultCacheSize = 256

// cachedResult is the outcome of one successful search.
type cachedResult struct {
	records []table.Record
	stored  time.Time
}

// CacheStats provides statistics about cache usage.
type CacheStats struct {
	Hits    int64
	Misses  int64
	Expired int64 // Lookups that found an entry older than the TTL
	Evicted int64
	Entries int64
	HitRate float64 // Percentage of lookups served from the cache
}

// ResultCache keeps recent search results per LDAP filter, so that retyping
// a filter does not hit the directory again. Records are shared between
// callers and must not be modified.
type ResultCache struct {
	ttl     time.Duration
	maxSize int64
	now     func() time.Time

	entries sync.Map // map[string]*cachedResult keyed by LDAP filter
	size    atomic.Int64

	statsMu sync.Mutex
	stats   CacheStats
}

// NewResultCache creates a cache whose entries live for ttl. A maxSize of 0
// uses DefaultCacheSize.
func NewResultCache(ttl time.Duration, maxSize int) *ResultCache {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	return &ResultCache{
		ttl:     ttl,
		maxSize: int64(maxSize),
		now:     time.Now,
	}
}

// Get returns the records cached for filter, if still fresh.
func (c *ResultCache) Get(filter string) ([]table.Record, bool) {
	v, ok := c.entries.Load(filter)
	if !ok {
		c.count(func(s *CacheStats) { s.Misses++ })
		return nil, false
	}

	entry := v.(*cachedResult)
	if c.now().Sub(entry.stored) >= c.ttl {
		if c.entries.CompareAndDelete(filter, entry) {
			c.size.Add(-1)
		}
		c.count(func(s *CacheStats) { s.Misses++; s.Expired++ })
		return nil, false
	}

	c.count(func(s *CacheStats) { s.Hits++ })
	return entry.records, true
}

// Put stores records for filter, evicting expired entries, then the oldest
// one, when the cache is full.
func (c *ResultCache) Put(filter string, records []table.Record) {
	entry := &cachedResult{records: records, stored: c.now()}
	if _, loaded := c.entries.Swap(filter, entry); loaded {
		return
	}
	if c.size.Add(1) > c.maxSize {
		c.evict()
	}
}

func (c *ResultCache) evict() {
	now := c.now()
	c.entries.Range(func(key, value any) bool {
		if entry := value.(*cachedResult); now.Sub(entry.stored) >= c.ttl {
			c.remove(key.(string), entry)
		}
		return true
	})

	for c.size.Load() > c.maxSize {
		key, entry := c.oldest()
		if entry == nil {
			return
		}
		c.remove(key, entry)
	}
}

func (c *ResultCache) oldest() (string, *cachedResult) {
	var (
		oldestKey string
		oldest    *cachedResult
	)
	c.entries.Range(func(key, value any) bool {
		entry := value.(*cachedResult)
		if oldest == nil || entry.stored.Before(oldest.stored) {
			oldestKey, oldest = key.(string), entry
		}
		return true
	})
	return oldestKey, oldest
}

func (c *ResultCache) remove(key string, entry *cachedResult) {
	if c.entries.CompareAndDelete(key, entry) {
		c.size.Add(-1)
		c.count(func(s *CacheStats) { s.Evicted++ })
	}
}

// Clear removes every entry. Counters are kept.
func (c *ResultCache) Clear() {
	c.entries.Range(func(key, value any) bool {
		if c.entries.CompareAndDelete(key, value) {
			c.size.Add(-1)
		}
		return true
	})
}

// Stats returns current cache statistics.
func (c *ResultCache) Stats() CacheStats {
	c.statsMu.Lock()
	stats := c.stats
	c.statsMu.Unlock()

	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}
	stats.Entries = c.size.Load()
	return stats
}

func (c *ResultCache) count(update func(*CacheStats)) {
	c.statsMu.Lock()
	update(&c.stats)
	c.statsMu.Unlock()
}
