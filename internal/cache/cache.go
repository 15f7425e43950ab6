// Package cache provides the two-tier cache and per-identity rate limiting
// used across ppmcore: a bounded in-process TTL map, optionally backed by an
// external KV for cross-instance sharing. Backend failures degrade silently
// to the in-process tier; callers never see cache errors.
package cache

import (
	"strings"
	"sync"
	"time"

	"ppmcore/internal/logging"
)

// Backend is an optional external KV tier.
type Backend interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
	Delete(key string)
}

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// Cache is the bounded in-process tier with an optional backend.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	maxEntries int
	backend    Backend
	clock      func() time.Time
}

// New returns a cache bounded at maxEntries. backend may be nil.
func New(maxEntries int, backend Backend) *Cache {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &Cache{
		entries:    make(map[string]entry),
		maxEntries: maxEntries,
		backend:    backend,
		clock:      time.Now,
	}
}

// Get returns the cached value and whether it was present and fresh.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && c.clock().Before(e.expiresAt) {
		return e.value, true
	}
	if ok {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
	}

	if c.backend != nil {
		if raw, ok := c.backend.Get(key); ok {
			return raw, true
		}
	}
	return nil, false
}

// Set stores a value with a TTL in both tiers.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	if len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	c.entries[key] = entry{value: value, expiresAt: c.clock().Add(ttl)}
	c.mu.Unlock()

	if c.backend != nil {
		if raw, ok := value.([]byte); ok {
			c.backend.Set(key, raw, ttl)
		}
	}
	logging.CacheDebug("set %s (ttl %v)", key, ttl)
}

// Delete removes one key from both tiers.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()

	if c.backend != nil {
		c.backend.Delete(key)
	}
}

// ClearPattern removes every key matching a prefix pattern ("perm:*" clears
// all permission entries; "*" clears everything).
func (c *Cache) ClearPattern(pattern string) int {
	prefix := strings.TrimSuffix(pattern, "*")
	all := pattern == "*"

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if all || strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	logging.CacheDebug("cleared %d entries matching %q", removed, pattern)
	return removed
}

// Len reports the current in-process entry count (expired entries included
// until touched or evicted).
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictLocked drops expired entries first; if the map is still full, it
// drops the entry closest to expiry.
func (c *Cache) evictLocked() {
	now := c.clock()
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) < c.maxEntries {
		return
	}
	var victim string
	var soonest time.Time
	for key, e := range c.entries {
		if victim == "" || e.expiresAt.Before(soonest) {
			victim = key
			soonest = e.expiresAt
		}
	}
	delete(c.entries, victim)
}
