package cache

import (
	"sync"
	"time"
)

// Cooldown gates retries per key until a deadline passes.
// Deadlines only move forward; a shorter block never shortens a longer one.
type Cooldown[K comparable] struct {
	mu       sync.Mutex
	deadline map[K]time.Time
	now      func() time.Time
}

// NewCooldown creates an empty tracker.
func NewCooldown[K comparable](now func() time.Time) *Cooldown[K] {
	if now == nil {
		now = time.Now
	}
	return &Cooldown[K]{
		deadline: make(map[K]time.Time),
		now:      now,
	}
}

// IsBlocked reports now < retryNotBefore(key). Unknown keys are not blocked.
func (c *Cooldown[K]) IsBlocked(key K) bool {
	_, blocked := c.Until(key)
	return blocked
}

// Until returns the active deadline for key, if any.
func (c *Cooldown[K]) Until(key K) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.deadline[key]
	if !ok || !c.now().Before(d) {
		return time.Time{}, false
	}
	return d, true
}

// Block sets retryNotBefore = max(existing, now + d) and returns the deadline in effect.
func (c *Cooldown[K]) Block(key K, d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.now().Add(d)
	if cur, ok := c.deadline[key]; ok && cur.After(next) {
		return cur
	}
	c.deadline[key] = next
	return next
}
