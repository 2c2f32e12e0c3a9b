// Package cache holds small in-process caches for hot read paths.
package cache

import (
	"sync"
	"time"
)

type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	Delete(key K)
	Len() int
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache is a mutex guarded map whose entries lapse after their ttl.
// Expired entries are removed lazily on read and by sweeps every
// sweepEvery writes.
type TTLCache[K comparable, V any] struct {
	mu      sync.Mutex
	items   map[K]entry[V]
	now     func() time.Time
	writes  int
	maxSize int
}

const (
	sweepEvery     = 256
	defaultMaxSize = 10_000
)

func NewTTLCache[K comparable, V any]() *TTLCache[K, V] {
	return NewTTLCacheWithClock[K, V](time.Now, defaultMaxSize)
}

// NewTTLCacheWithClock lets callers drive expiry; maxSize <= 0 means unbounded.
func NewTTLCacheWithClock[K comparable, V any](now func() time.Time, maxSize int) *TTLCache[K, V] {
	return &TTLCache[K, V]{
		items:   make(map[K]entry[V]),
		now:     now,
		maxSize: maxSize,
	}
}

func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !c.now().Before(item.expiresAt) {
		delete(c.items, key)
		var zero V
		return zero, false
	}
	return item.value, true
}

func (c *TTLCache[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writes++
	if c.writes%sweepEvery == 0 {
		c.sweepLocked()
	}
	if c.maxSize > 0 && len(c.items) >= c.maxSize {
		if _, exists := c.items[key]; !exists {
			c.sweepLocked()
			if len(c.items) >= c.maxSize {
				return
			}
		}
	}
	c.items[key] = entry[V]{value: value, expiresAt: c.now().Add(ttl)}
}

func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

func (c *TTLCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *TTLCache[K, V]) sweepLocked() {
	now := c.now()
	for key, item := range c.items {
		if !now.Before(item.expiresAt) {
			delete(c.items, key)
		}
	}
}
