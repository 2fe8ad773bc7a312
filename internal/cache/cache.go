// Package cache implements the per-kind TTL response cache.
//
// Staleness is computed lazily at lookup time; there is no eviction
// goroutine. A stale entry reads as a miss and is overwritten by the next
// successful fetch. Concurrent overwrites are last-writer-wins, which is
// acceptable because cached values are idempotent derivations of the same
// upstream truth.
package cache

import (
	"sync"
	"time"

	"github.com/asolovev/wb-collector/internal/collector"
	"github.com/asolovev/wb-collector/internal/metrics"
)

// DefaultTTLs mirrors the per-handler freshness windows.
var DefaultTTLs = map[collector.QueryKind]time.Duration{
	collector.KindSuggest: 5 * time.Minute,
	collector.KindSearch:  15 * time.Minute,
	collector.KindProduct: 30 * time.Minute,
	collector.KindBrand:   24 * time.Hour,
	collector.KindSeller:  24 * time.Hour,
}

type entry struct {
	data       any
	insertedAt time.Time
}

// Stats is a read-only hit/miss snapshot for one query kind.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

// Cache holds one keyed map per query kind.
type Cache struct {
	mu      sync.RWMutex
	clock   collector.Clock
	ttls    map[collector.QueryKind]time.Duration
	entries map[collector.QueryKind]map[string]entry
	hits    map[collector.QueryKind]int64
	misses  map[collector.QueryKind]int64
}

// New constructs a Cache. A nil ttls map selects DefaultTTLs.
func New(clock collector.Clock, ttls map[collector.QueryKind]time.Duration) *Cache {
	if ttls == nil {
		ttls = DefaultTTLs
	}
	c := &Cache{
		clock:   clock,
		ttls:    ttls,
		entries: make(map[collector.QueryKind]map[string]entry, len(collector.Kinds)),
		hits:    make(map[collector.QueryKind]int64, len(collector.Kinds)),
		misses:  make(map[collector.QueryKind]int64, len(collector.Kinds)),
	}
	for _, k := range collector.Kinds {
		c.entries[k] = make(map[string]entry)
	}
	return c
}

// Get returns the cached value for (kind, key) when it is still fresh.
func (c *Cache) Get(kind collector.QueryKind, key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[kind][key]
	if ok && c.clock.Now().Sub(e.insertedAt) < c.ttl(kind) {
		c.hits[kind]++
		metrics.ObserveCacheLookup(string(kind), true)
		return e.data, true
	}
	c.misses[kind]++
	metrics.ObserveCacheLookup(string(kind), false)
	return nil, false
}

// Put stores a value for (kind, key), replacing any previous entry.
func (c *Cache) Put(kind collector.QueryKind, key string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[kind][key] = entry{data: data, insertedAt: c.clock.Now()}
}

// TTL exposes the freshness window configured for a kind.
func (c *Cache) TTL(kind collector.QueryKind) time.Duration {
	return c.ttl(kind)
}

func (c *Cache) ttl(kind collector.QueryKind) time.Duration {
	if d, ok := c.ttls[kind]; ok {
		return d
	}
	return 5 * time.Minute
}

// Snapshot returns per-kind hit/miss counters for the stats surface.
func (c *Cache) Snapshot() map[collector.QueryKind]Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[collector.QueryKind]Stats, len(collector.Kinds))
	for _, k := range collector.Kinds {
		out[k] = Stats{
			Hits:   c.hits[k],
			Misses: c.misses[k],
			Size:   len(c.entries[k]),
		}
	}
	return out
}
