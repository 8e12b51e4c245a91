package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// MemoryCache is a size bounded TTL cache. Expiry is checked when an entry is read and expired
// entries are removed by a scheduled eviction rather than inside Get. When full, Set evicts the
// entry with the oldest timestamp.
type MemoryCache[V any] struct {
	mu         sync.Mutex
	entries    map[string]entry[V]
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	schedule   func(func())

	hits      int64
	misses    int64
	evictions int64
}

type MemoryOption[V any] func(*MemoryCache[V])

// WithClock replaces the wall clock. Tests use it to drive expiry.
func WithClock[V any](now func() time.Time) MemoryOption[V] {
	return func(c *MemoryCache[V]) {
		c.now = now
	}
}

// WithScheduler replaces how deferred evictions run. The default runs them on a new goroutine.
func WithScheduler[V any](schedule func(func())) MemoryOption[V] {
	return func(c *MemoryCache[V]) {
		c.schedule = schedule
	}
}

// NewMemoryCache creates a cache. Non-positive ttl or maxEntries fall back to the defaults.
func NewMemoryCache[V any](ttl time.Duration, maxEntries int, opts ...MemoryOption[V]) *MemoryCache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	c := &MemoryCache[V]{
		entries:    make(map[string]entry[V]),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		schedule:   func(fn func()) { go fn() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *MemoryCache[V]) Get(_ context.Context, key string) (V, bool, error) {
	var zero V

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		c.mu.Unlock()
		return zero, false, nil
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		c.misses++
		c.mu.Unlock()
		c.schedule(func() { c.evictExpired(key, e.storedAt) })
		return zero, false, nil
	}
	c.hits++
	c.mu.Unlock()
	return e.value, true, nil
}

// evictExpired removes key if it still holds the entry that was observed expired.
func (c *MemoryCache[V]) evictExpired(key string, storedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !e.storedAt.Equal(storedAt) {
		return
	}
	delete(c.entries, key)
	c.evictions++
}

func (c *MemoryCache[V]) Set(_ context.Context, key string, value V) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		for len(c.entries) >= c.maxEntries {
			c.evictOldest()
		}
	}
	c.entries[key] = entry[V]{value: value, storedAt: c.now()}
	return nil
}

// evictOldest must be called with the lock held.
func (c *MemoryCache[V]) evictOldest() {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for k, e := range c.entries {
		if !found || e.storedAt.Before(oldest) || (e.storedAt.Equal(oldest) && k < oldestKey) {
			oldestKey, oldest, found = k, e.storedAt, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}

func (c *MemoryCache[V]) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *MemoryCache[V]) DeletePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	return nil
}

func (c *MemoryCache[V]) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
	return nil
}

// Len counts stored entries, including expired ones not yet evicted.
func (c *MemoryCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}
