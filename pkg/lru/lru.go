// Package lru implements a bounded, in-process LRU cache with per-entry
// TTL, grounded on the eviction-policy shape of the teacher's
// pkg/embedding/cache/lru package (policy map, size/adaptive eviction
// policies) but backed by container/list instead of a Redis sorted set,
// since this cache is explicitly local to one process.
package lru

import (
	"container/list"
	"sync"
	"time"

	"github.com/developer-mesh/ptolemies/pkg/observability"
)

// Stats mirrors the teacher's LRUStats shape for a single local cache.
type Stats struct {
	Entries       int
	Bytes         int64
	Hits          int64
	Misses        int64
	Evictions     int64
	ExpiredEvicts int64
}

// EvictionPolicy decides whether and how much to evict, matching the
// interface shape of pkg/embedding/cache/lru.EvictionPolicy.
type EvictionPolicy interface {
	ShouldEvict(entries int, bytes int64, maxEntries int, maxBytes int64) bool
}

// SizeBasedPolicy evicts once either the entry-count or byte-size budget
// is exceeded, mirroring the teacher's SizeBasedPolicy.
type SizeBasedPolicy struct{}

func (SizeBasedPolicy) ShouldEvict(entries int, bytes int64, maxEntries int, maxBytes int64) bool {
	return (maxEntries > 0 && entries > maxEntries) || (maxBytes > 0 && bytes > maxBytes)
}

type entry struct {
	key       string
	value     interface{}
	size      int64
	expiresAt time.Time
}

// Cache is a bounded LRU cache with optional per-entry TTL.
type Cache struct {
	mu         sync.Mutex
	maxEntries int
	maxBytes   int64
	ttl        time.Duration
	policy     EvictionPolicy
	ll         *list.List
	items      map[string]*list.Element
	bytes      int64

	logger  observability.Logger
	metrics observability.MetricsClient

	hits, misses, evictions, expiredEvicts int64
}

// Config configures a Cache.
type Config struct {
	MaxEntries int
	MaxBytes   int64
	DefaultTTL time.Duration
	Policy     EvictionPolicy
	Logger     observability.Logger
	Metrics    observability.MetricsClient
}

// New creates a bounded LRU cache. MaxEntries <= 0 means unbounded by
// count; MaxBytes <= 0 means unbounded by size.
func New(cfg Config) *Cache {
	if cfg.Policy == nil {
		cfg.Policy = SizeBasedPolicy{}
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNoopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewNoOpMetricsClient()
	}
	return &Cache{
		maxEntries: cfg.MaxEntries,
		maxBytes:   cfg.MaxBytes,
		ttl:        cfg.DefaultTTL,
		policy:     cfg.Policy,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// Get returns the cached value for key, if present and not expired.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	e := el.Value.(*entry)
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		c.removeElement(el)
		c.misses++
		c.expiredEvicts++
		return nil, false
	}
	c.ll.MoveToFront(el)
	c.hits++
	return e.value, true
}

// Set inserts or updates a value, using the given size estimate (in bytes,
// 0 if unknown) and a per-entry TTL override (zero value uses the cache
// default TTL, a negative value means no expiry).
func (c *Cache) Set(key string, value interface{}, size int64, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	switch {
	case ttl > 0:
		expiresAt = time.Now().Add(ttl)
	case ttl == 0 && c.ttl > 0:
		expiresAt = time.Now().Add(c.ttl)
	}

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		c.bytes += size - e.size
		e.value = value
		e.size = size
		e.expiresAt = expiresAt
		c.ll.MoveToFront(el)
	} else {
		e := &entry{key: key, value: value, size: size, expiresAt: expiresAt}
		el := c.ll.PushFront(e)
		c.items[key] = el
		c.bytes += size
	}

	for c.policy.ShouldEvict(c.ll.Len(), c.bytes, c.maxEntries, c.maxBytes) {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
		c.evictions++
		c.metrics.IncrementCounter("lru.evictions", 1)
	}
}

// Delete removes a key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// MaxEntries returns the cache's configured capacity (0 means unbounded).
func (c *Cache) MaxEntries() int {
	return c.maxEntries
}

// TTL returns the cache's current default TTL.
func (c *Cache) TTL() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttl
}

// SetTTL updates the cache's default TTL for entries inserted afterward,
// used by the optimizer's adaptive tuning loop (spec.md §4.6).
func (c *Cache) SetTTL(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl = ttl
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:       c.ll.Len(),
		Bytes:         c.bytes,
		Hits:          c.hits,
		Misses:        c.misses,
		Evictions:     c.evictions,
		ExpiredEvicts: c.expiredEvicts,
	}
}

// Purge removes every entry whose TTL has elapsed. Intended to be called
// periodically by a caller-owned ticker, matching how the teacher's
// lru.Manager.Run drives eviction off a time.Ticker.
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	purged := 0
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry)
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			c.removeElement(el)
			c.expiredEvicts++
			purged++
		}
		el = prev
	}
	return purged
}

func (c *Cache) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	c.ll.Remove(el)
	delete(c.items, e.key)
	c.bytes -= e.size
}
