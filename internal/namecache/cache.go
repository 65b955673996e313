// Package namecache holds short-lived display lookups such as event names.
package namecache

import (
	"context"
	"sync"
	"time"
)

// Cache is a bounded map whose entries expire after a fixed TTL.
// When full, the entry written longest ago is evicted.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	size    int
	now     func() time.Time
	entries map[K]entry[V]
}

type entry[V any] struct {
	value   V
	written time.Time
}

// Option configures a Cache
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates a cache holding at most size entries for ttl each
func New[K comparable, V any](ttl time.Duration, size int, opts ...Option) *Cache[K, V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if size < 1 {
		size = 1
	}
	return &Cache[K, V]{
		ttl:     ttl,
		size:    size,
		now:     o.now,
		entries: make(map[K]entry[V]),
	}
}

// Get returns a live entry
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.expired(e) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, evicting the oldest entry when full
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.size {
		c.evictLocked()
	}
	c.entries[key] = entry[V]{value: value, written: c.now()}
}

// Delete drops key
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len reports the number of stored entries, expired ones included
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// GetOrLoad returns the cached value or calls load and caches its result.
// Load errors are returned and nothing is cached.
func (c *Cache[K, V]) GetOrLoad(ctx context.Context, key K, load func(ctx context.Context, key K) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load(ctx, key)
	if err != nil {
		var zero V
		return zero, err
	}
	c.Set(key, v)
	return v, nil
}

func (c *Cache[K, V]) expired(e entry[V]) bool {
	return c.ttl > 0 && c.now().Sub(e.written) >= c.ttl
}

// evictLocked drops expired entries, or the oldest one if none expired
func (c *Cache[K, V]) evictLocked() {
	var oldestKey K
	var oldest time.Time
	found := false
	for k, e := range c.entries {
		if c.expired(e) {
			delete(c.entries, k)
			continue
		}
		if !found || e.written.Before(oldest) {
			oldestKey, oldest, found = k, e.written, true
		}
	}
	if len(c.entries) >= c.size && found {
		delete(c.entries, oldestKey)
	}
}
