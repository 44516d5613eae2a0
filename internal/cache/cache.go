// Package cache provides in-memory caching with per-entry TTL and
// capacity-bounded eviction.
//
// Expiry is lazy: an entry is only checked against its TTL when it is read
// (Get, Contains) or when a Put finds the cache full. There is no background
// sweeper; call CleanupExpired to purge explicitly.
//
// Example usage:
//
//	c := cache.New[string](cache.Config{MaxSize: 100, DefaultTTL: time.Hour})
//	c.Put("key", "value")
//	v, ok := c.Get("key")
package cache

import (
	"sort"
	"sync"
	"time"
)

// evictFraction is the share of entries dropped when a full cache holds no
// expired entries.
const evictFraction = 0.10

// Config configures a Cache.
type Config struct {
	// MaxSize bounds the number of entries. Zero or negative means unbounded.
	MaxSize int

	// DefaultTTL applies to Put. Zero means entries never expire.
	DefaultTTL time.Duration

	// Name labels this cache in metrics. Empty disables metrics even when a
	// Metrics instance is supplied.
	Name string
}

// Option customizes a Cache.
type Option func(*settings)

type settings struct {
	now     func() time.Time
	metrics *Metrics
}

// WithClock overrides the time source. Used by tests to control expiry.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		s.now = now
	}
}

// WithMetrics records hits, misses, evictions and size to m.
func WithMetrics(m *Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

type entry[T any] struct {
	value     T
	createdAt time.Time
	ttl       time.Duration
}

func (e *entry[T]) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.createdAt) > e.ttl
}

// Cache is a key/value store with lazy TTL expiry and size-bounded eviction.
// All methods are safe for concurrent use; the cache guards its map with a
// single mutex.
type Cache[T any] struct {
	mu         sync.Mutex
	entries    map[string]*entry[T]
	maxSize    int
	defaultTTL time.Duration
	name       string
	now        func() time.Time
	metrics    *Metrics
}

// New creates a cache from cfg.
func New[T any](cfg Config, opts ...Option) *Cache[T] {
	s := settings{now: time.Now}
	for _, opt := range opts {
		opt(&s)
	}
	if cfg.Name == "" {
		s.metrics = nil
	}
	return &Cache[T]{
		entries:    make(map[string]*entry[T]),
		maxSize:    cfg.MaxSize,
		defaultTTL: cfg.DefaultTTL,
		name:       cfg.Name,
		now:        s.now,
		metrics:    s.metrics,
	}
}

// Put stores value under key using the default TTL.
func (c *Cache[T]) Put(key string, value T) {
	c.PutWithTTL(key, value, c.defaultTTL)
}

// PutWithTTL stores value under key. A ttl of zero never expires.
//
// If the cache is full, expired entries are dropped first; if it is still
// full, the oldest 10% of entries (at least one) are evicted by creation
// time. An existing entry for key is overwritten and its age reset.
func (c *Cache[T]) PutWithTTL(key string, value T, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		c.evictLocked(now)
	}

	c.entries[key] = &entry[T]{
		value:     value,
		createdAt: now,
		ttl:       ttl,
	}
	c.recordSize()
}

// Get returns the value for key. Expired entries are removed and reported as
// misses.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	e, ok := c.lookupLocked(key)
	if !ok {
		if c.metrics != nil {
			c.metrics.RecordMiss(c.name)
		}
		return zero, false
	}
	if c.metrics != nil {
		c.metrics.RecordHit(c.name)
	}
	return e.value, true
}

// Contains reports whether key holds a live entry. It applies the same lazy
// expiry as Get but does not count towards hit/miss metrics.
func (c *Cache[T]) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.lookupLocked(key)
	return ok
}

// Remove deletes key and reports whether it was present.
func (c *Cache[T]) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	c.recordSize()
	return true
}

// Clear removes every entry.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry[T])
	c.recordSize()
}

// Size returns the number of stored entries, including expired entries that
// have not been observed yet.
func (c *Cache[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// CleanupExpired removes every expired entry and returns how many were
// removed.
func (c *Cache[T]) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := c.dropExpiredLocked(c.now())
	c.recordSize()
	return removed
}

// lookupLocked returns the live entry for key, deleting it if expired.
// Caller must hold c.mu.
func (c *Cache[T]) lookupLocked(key string) (*entry[T], bool) {
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(c.now()) {
		delete(c.entries, key)
		if c.metrics != nil {
			c.metrics.RecordExpired(c.name, 1)
		}
		c.recordSize()
		return nil, false
	}
	return e, true
}

// evictLocked makes room for one insert. Caller must hold c.mu.
func (c *Cache[T]) evictLocked(now time.Time) {
	c.dropExpiredLocked(now)
	if len(c.entries) < c.maxSize {
		return
	}

	n := int(float64(len(c.entries)) * evictFraction)
	if n < 1 {
		n = 1
	}

	type aged struct {
		key       string
		createdAt time.Time
	}
	ordered := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		ordered = append(ordered, aged{key: k, createdAt: e.createdAt})
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].createdAt.Equal(ordered[j].createdAt) {
			return ordered[i].key < ordered[j].key
		}
		return ordered[i].createdAt.Before(ordered[j].createdAt)
	})

	for _, a := range ordered[:n] {
		delete(c.entries, a.key)
	}
	if c.metrics != nil {
		c.metrics.RecordEvicted(c.name, n)
	}
}

// dropExpiredLocked removes expired entries. Caller must hold c.mu.
func (c *Cache[T]) dropExpiredLocked(now time.Time) int {
	removed := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			removed++
		}
	}
	if removed > 0 && c.metrics != nil {
		c.metrics.RecordExpired(c.name, removed)
	}
	return removed
}

func (c *Cache[T]) recordSize() {
	if c.metrics != nil {
		c.metrics.SetSize(c.name, len(c.entries))
	}
}
