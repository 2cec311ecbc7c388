package cache

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUCache bounds the number of entries with least-recently-used eviction and
// additionally expires entries after a TTL.
type LRUCache[T any] struct {
	inner *lru.Cache[string, Entry[T]]
	ttl   time.Duration
	now   Clock
}

// NewLRU creates an LRU+TTL cache holding at most size entries
func NewLRU[T any](size int, ttl time.Duration, now Clock) (*LRUCache[T], error) {
	inner, err := lru.New[string, Entry[T]](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru cache: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	return &LRUCache[T]{inner: inner, ttl: ttl, now: now}, nil
}

// Get returns the cached value if present and unexpired
func (c *LRUCache[T]) Get(key string) (T, bool) {
	entry, ok := c.inner.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	if !entry.Valid(c.now(), c.ttl) {
		c.inner.Remove(key)
		var zero T
		return zero, false
	}
	return entry.Value, true
}

// Set stores a value, evicting the least recently used entry when full
func (c *LRUCache[T]) Set(key string, value T) {
	c.inner.Add(key, Entry[T]{Value: value, InsertedAt: c.now()})
}

// Len returns the number of stored entries
func (c *LRUCache[T]) Len() int {
	return c.inner.Len()
}
