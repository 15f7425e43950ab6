package cache

import (
	"math"
	"sync"
	"time"
)

// RateLimiter holds per-(identity, operation) token buckets. Each operation
// declares its own per-minute rate; buckets refill continuously.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	clock   func() time.Time
}

type bucket struct {
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewRateLimiter returns an empty limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		clock:   time.Now,
	}
}

// Allow consumes one token from the (identity, operation) bucket with the
// given per-minute rate. When denied, retryAfter is the wait in seconds
// until a token becomes available (at least 1).
func (r *RateLimiter) Allow(identity, operation string, perMinute int) (allowed bool, retryAfter int) {
	if perMinute <= 0 {
		return true, 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := identity + "|" + operation
	now := r.clock()
	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{
			tokens:     float64(perMinute),
			capacity:   float64(perMinute),
			refillRate: float64(perMinute) / 60.0,
			lastRefill: now,
		}
		r.buckets[key] = b
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.refillRate)
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}

	wait := (1 - b.tokens) / b.refillRate
	retryAfter = int(math.Ceil(wait))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}

// Reset clears the bucket for one identity and operation. Used by tests and
// by admin overrides.
func (r *RateLimiter) Reset(identity, operation string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buckets, identity+"|"+operation)
}
