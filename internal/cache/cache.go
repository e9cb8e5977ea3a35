// Package cache provides an in-memory TTL cache for short-lived upstream
// responses.
package cache

import (
	"sync"
	"time"
)

const (
	defaultCleanupInterval = 30 * time.Second
	defaultMaxCleanupRun   = 200
)

type entry struct {
	value     any
	expiresAt time.Time
}

// TTLCache is a mutex-guarded key/value store with per-entry expiry.
// Expired entries are treated as absent on access and swept
// opportunistically on reads and writes, at most once per cleanup
// interval and bounded per pass.
type TTLCache struct {
	mu              sync.Mutex
	store           map[string]entry
	cleanupInterval time.Duration
	maxCleanupRun   int
	nextCleanupAt   time.Time

	now func() time.Time
}

func New() *TTLCache {
	return NewWithOptions(defaultCleanupInterval, defaultMaxCleanupRun)
}

func NewWithOptions(cleanupInterval time.Duration, maxCleanupPerRun int) *TTLCache {
	return &TTLCache{
		store:           make(map[string]entry),
		cleanupInterval: cleanupInterval,
		maxCleanupRun:   maxCleanupPerRun,
		now:             time.Now,
	}
}

// Get returns the value for key, or false if the key is absent or expired.
func (c *TTLCache) Get(key string) (any, bool) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupExpiredLocked(now)

	e, ok := c.store[key]
	if !ok {
		return nil, false
	}
	if !now.Before(e.expiresAt) {
		delete(c.store, key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key for ttl. A non-positive ttl is a no-op.
func (c *TTLCache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store[key] = entry{value: value, expiresAt: now.Add(ttl)}
	c.cleanupExpiredLocked(now)
}

func (c *TTLCache) cleanupExpiredLocked(now time.Time) {
	if now.Before(c.nextCleanupAt) {
		return
	}

	removed := 0
	for key, e := range c.store {
		if !now.Before(e.expiresAt) {
			delete(c.store, key)
			removed++
			if removed >= c.maxCleanupRun {
				break
			}
		}
	}

	c.nextCleanupAt = now.Add(c.cleanupInterval)
}
