package cache

import (
	"sync"
	"time"
)

// Entry is a stored value together with the time it was fetched.
type Entry[V any] struct {
	Value     V
	FetchedAt time.Time
	TTL       time.Duration
}

// ExpiresAt returns the instant after which the entry is treated as absent.
func (e Entry[V]) ExpiresAt() time.Time {
	return e.FetchedAt.Add(e.TTL)
}

// freshAt reports whether now - fetchedAt < ttl.
func (e Entry[V]) freshAt(now time.Time) bool {
	return now.Sub(e.FetchedAt) < e.TTL
}

// TTLCache is an in-memory keyed store with fetch time and time-to-live.
// Stale entries are not evicted; they are ignored by Get until overwritten.
type TTLCache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]Entry[V]
	ttl     time.Duration
	now     func() time.Time
}

// NewTTLCache creates a cache whose entries live for ttl unless set with an explicit TTL.
func NewTTLCache[K comparable, V any](ttl time.Duration, now func() time.Time) *TTLCache[K, V] {
	if now == nil {
		now = time.Now
	}
	return &TTLCache[K, V]{
		entries: make(map[K]Entry[V]),
		ttl:     ttl,
		now:     now,
	}
}

// Get returns the value only while it is fresh.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	e, ok := c.Entry(key)
	return e.Value, ok
}

// Entry returns the fresh entry with its metadata.
func (c *TTLCache[K, V]) Entry(key K) (Entry[V], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, exists := c.entries[key]
	if !exists || !e.freshAt(c.now()) {
		var zero Entry[V]
		return zero, false
	}
	return e, true
}

// Peek returns the entry even if it has gone stale.
func (c *TTLCache[K, V]) Peek(key K) (Entry[V], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, exists := c.entries[key]
	return e, exists
}

// Set overwrites the entry and stamps the current time.
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL overwrites the entry with a per-entry lifetime.
func (c *TTLCache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.Restore(key, value, c.now(), ttl)
}

// Restore stores a value with an explicit fetch time, used when warming the
// cache from a persisted snapshot.
func (c *TTLCache[K, V]) Restore(key K, value V, fetchedAt time.Time, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = Entry[V]{Value: value, FetchedAt: fetchedAt, TTL: ttl}
}

// Delete removes a key.
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

// TTL returns the default lifetime.
func (c *TTLCache[K, V]) TTL() time.Duration {
	return c.ttl
}
