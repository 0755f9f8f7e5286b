// Package cache holds the time-bounded memoization layers used by the search
// pipeline: an in-process TTL map, a Redis-backed store and the tiered
// combination of both.
package cache

import (
	"sort"
	"sync"
	"time"

	"mediatracker/searchservice/internal/metrics"
)

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// TTL is an in-memory cache whose entries expire a fixed duration after they
// were written. A read past expiry behaves exactly like a miss.
type TTL[V any] struct {
	name       string
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]entry[V]
}

type Option[V any] func(*TTL[V])

// WithMaxEntries bounds the cache. Zero means unbounded until expiry.
func WithMaxEntries[V any](n int) Option[V] {
	return func(c *TTL[V]) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithClock replaces time.Now, mostly for tests around the TTL boundary.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *TTL[V]) {
		if now != nil {
			c.now = now
		}
	}
}

func NewTTL[V any](name string, ttl time.Duration, opts ...Option[V]) *TTL[V] {
	c := &TTL[V]{
		name:    name,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry[V]),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *TTL[V]) Name() string { return c.name }

func (c *TTL[V]) TTL() time.Duration { return c.ttl }

func (c *TTL[V]) Get(key string) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.entries[key]
	if !ok {
		metrics.CacheMissesTotal.WithLabelValues(c.name).Inc()
		return zero, false
	}
	if now.After(item.storedAt.Add(c.ttl)) {
		delete(c.entries, key)
		metrics.CacheMissesTotal.WithLabelValues(c.name).Inc()
		return zero, false
	}
	metrics.CacheHitsTotal.WithLabelValues(c.name).Inc()
	return item.value, true
}

func (c *TTL[V]) Set(key string, value V) {
	if c == nil {
		return
	}
	c.setStoredAt(key, value, c.now())
}

// setStoredAt writes value as if it had been stored at storedAt, so it
// expires at storedAt+ttl. Already expired values are not written.
func (c *TTL[V]) setStoredAt(key string, value V, storedAt time.Time) {
	now := c.now()
	if now.After(storedAt.Add(c.ttl)) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry[V]{value: value, storedAt: storedAt}
	c.trimLocked(now)
}

func (c *TTL[V]) expired(storedAt time.Time) bool {
	return c.now().After(storedAt.Add(c.ttl))
}

func (c *TTL[V]) Delete(key string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *TTL[V]) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// trimLocked drops expired entries first, then the oldest ones, once the cache
// grows past maxEntries.
func (c *TTL[V]) trimLocked(now time.Time) {
	if c.maxEntries <= 0 || len(c.entries) <= c.maxEntries {
		return
	}
	for key, item := range c.entries {
		if now.After(item.storedAt.Add(c.ttl)) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) <= c.maxEntries {
		return
	}

	type pair struct {
		key      string
		storedAt time.Time
	}
	items := make([]pair, 0, len(c.entries))
	for key, item := range c.entries {
		items = append(items, pair{key: key, storedAt: item.storedAt})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].storedAt.Before(items[j].storedAt)
	})
	for i := 0; i < len(items)-c.maxEntries; i++ {
		delete(c.entries, items[i].key)
	}
}
