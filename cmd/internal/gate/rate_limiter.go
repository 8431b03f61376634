package gate

import (
	"sync"
	"time"
)

const (
	// Default per-device budget for unlock verification attempts.
	verifyLimitEvents = 10
	verifyLimitWindow = time.Minute

	// Default per-device budget for token minting.
	mintLimitEvents = 10
	mintLimitWindow = time.Minute
)

// RateLimiter is a sliding-window limiter for a single key.
type RateLimiter struct {
	mu     sync.Mutex
	events []time.Time
	limit  int
	window time.Duration
}

// NewRateLimiter constructs a RateLimiter with safe defaults when inputs are invalid.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = verifyLimitEvents
	}
	if window <= 0 {
		window = verifyLimitWindow
	}
	return &RateLimiter{
		events: make([]time.Time, 0, limit+8),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event at time "now" should be permitted.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cut := now.Add(-r.window)
	dst := r.events[:0]
	for _, t := range r.events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	r.events = dst

	if len(r.events) >= r.limit {
		return false
	}
	r.events = append(r.events, now)
	return true
}

// KeyedLimiter maintains one RateLimiter per key (device id).
type KeyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*RateLimiter
	limit    int
	window   time.Duration
}

// NewKeyedLimiter constructs a KeyedLimiter; limit/window defaults apply as
// in NewRateLimiter.
func NewKeyedLimiter(limit int, window time.Duration) *KeyedLimiter {
	return &KeyedLimiter{
		limiters: make(map[string]*RateLimiter),
		limit:    limit,
		window:   window,
	}
}

// Allow reports whether an event for key at time "now" should be permitted.
func (k *KeyedLimiter) Allow(key string, now time.Time) bool {
	k.mu.Lock()
	rl, ok := k.limiters[key]
	if !ok {
		rl = NewRateLimiter(k.limit, k.window)
		k.limiters[key] = rl
	}
	k.mu.Unlock()

	return rl.Allow(now)
}
