package devicewatch

import (
	"sync"
	"time"
)

// RateLimiter admits at most one trigger per interval.
type RateLimiter struct {
	interval time.Duration

	mu    sync.Mutex
	last  time.Time
	prev  time.Time
	armed bool
}

// NewRateLimiter returns a limiter whose first trigger always succeeds.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{interval: interval}
}

// TryTrigger records now and returns true when the interval has elapsed
// since the last accepted trigger.
func (r *RateLimiter) TryTrigger(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.armed && now.Sub(r.last) < r.interval {
		return false
	}
	r.prev = r.last
	r.last = now
	r.armed = true
	return true
}

// Revert undoes the trigger accepted at now, so a failed action does not
// consume the interval. It is a no-op if another trigger was accepted since.
func (r *RateLimiter) Revert(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.armed || !r.last.Equal(now) {
		return
	}
	r.last = r.prev
	r.armed = !r.prev.IsZero()
}
