package cache

import (
	"sync"
	"time"
)

// Clock returns the current time. Tests substitute a controllable clock.
type Clock func() time.Time

// Entry is a cached value with its insertion time
type Entry[T any] struct {
	Value      T
	InsertedAt time.Time
}

// Valid reports whether the entry is still inside its TTL window
func (e Entry[T]) Valid(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.InsertedAt) < ttl
}

// TTLCache is a key-value cache whose entries expire after a fixed TTL.
// Expired entries are treated as absent and removed on the read that finds
// them. Set also sweeps every expired entry at most once per TTL window, so
// the map never holds more than two windows of inserts.
type TTLCache[T any] struct {
	mu        sync.Mutex
	ttl       time.Duration
	now       Clock
	items     map[string]Entry[T]
	lastSweep time.Time

	hits   int
	misses int
}

// NewTTL creates a TTL cache. A nil clock means time.Now.
func NewTTL[T any](ttl time.Duration, now Clock) *TTLCache[T] {
	if now == nil {
		now = time.Now
	}
	return &TTLCache[T]{
		ttl:       ttl,
		now:       now,
		items:     make(map[string]Entry[T]),
		lastSweep: now(),
	}
}

// Get returns the cached value if present and unexpired
func (c *TTLCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[key]
	if !ok {
		c.misses++
		var zero T
		return zero, false
	}
	if !entry.Valid(c.now(), c.ttl) {
		delete(c.items, key)
		c.misses++
		var zero T
		return zero, false
	}
	c.hits++
	return entry.Value, true
}

// Set stores a value, replacing any previous entry for the key
func (c *TTLCache[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.lastSweep) >= c.ttl {
		c.sweep(now)
	}
	c.items[key] = Entry[T]{Value: value, InsertedAt: now}
}

// sweep drops every expired entry. Callers hold c.mu.
func (c *TTLCache[T]) sweep(now time.Time) {
	for k, e := range c.items {
		if !e.Valid(now, c.ttl) {
			delete(c.items, k)
		}
	}
	c.lastSweep = now
}

// Len returns the number of stored entries, including expired ones not yet evicted
func (c *TTLCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns hit and miss counts
func (c *TTLCache[T]) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
