// Package ratelimit implements per-client request rate limiting with
// lazy-refill token buckets.
package ratelimit

import (
	"sync"
	"time"
)

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
}

// bucket is a token bucket with lazy refill (no background goroutine).
type bucket struct {
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastFill time.Time
}

func newBucket(limit int64, now time.Time) *bucket {
	return &bucket{
		tokens:   float64(limit),
		max:      float64(limit),
		rate:     float64(limit) / 60.0, // per-minute limit -> per-second rate
		lastFill: now,
	}
}

// refill adds tokens based on elapsed time since last refill.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastFill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = min(b.max, b.tokens+elapsed*b.rate)
	b.lastFill = now
}

// tryConsume attempts to consume one token.
func (b *bucket) tryConsume(now time.Time) (remaining int64, allowed bool) {
	b.refill(now)
	if b.tokens >= 1 {
		b.tokens--
		return int64(b.tokens), true
	}
	return 0, false
}

// retryAfter returns the time until one token is available.
func (b *bucket) retryAfter() time.Duration {
	if b.tokens >= 1 {
		return 0
	}
	return time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
}

// limiter is the bucket of a single client.
type limiter struct {
	mu       sync.Mutex
	b        *bucket
	lastUsed time.Time
}

// Registry manages per-client limiters sharing one requests-per-minute limit.
type Registry struct {
	rpm int64
	now func() time.Time

	mu       sync.RWMutex
	limiters map[string]*limiter
}

// NewRegistry creates a registry allowing rpm requests per minute per
// client. A non-positive rpm returns nil, meaning unlimited.
func NewRegistry(rpm int64) *Registry {
	if rpm <= 0 {
		return nil
	}
	return &Registry{
		rpm:      rpm,
		now:      time.Now,
		limiters: make(map[string]*limiter),
	}
}

// Allow consumes one request for client.
func (r *Registry) Allow(client string) Result {
	l := r.getOrCreate(client)

	l.mu.Lock()
	defer l.mu.Unlock()
	now := r.now()
	l.lastUsed = now

	if remaining, ok := l.b.tryConsume(now); ok {
		return Result{Allowed: true, Limit: r.rpm, Remaining: remaining}
	}
	return Result{Limit: r.rpm, RetryAfter: l.b.retryAfter()}
}

func (r *Registry) getOrCreate(client string) *limiter {
	r.mu.RLock()
	l, ok := r.limiters[client]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check after acquiring write lock.
	if l, ok := r.limiters[client]; ok {
		return l
	}
	now := r.now()
	l = &limiter{b: newBucket(r.rpm, now), lastUsed: now}
	r.limiters[client] = l
	return l
}

// Len returns the number of tracked clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.limiters)
}

// EvictStale removes limiters not used since cutoff.
func (r *Registry) EvictStale(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for k, l := range r.limiters {
		l.mu.Lock()
		stale := l.lastUsed.Before(cutoff)
		l.mu.Unlock()
		if stale {
			delete(r.limiters, k)
			evicted++
		}
	}
	return evicted
}
