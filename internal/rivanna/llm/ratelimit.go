package llm

import (
	"sync"
	"time"

	"github.com/bdobrica/rivanna/common/clock"
)

const (
	// DefaultRateLimit is the number of chat messages a sender may push
	// into the pipeline per window when no explicit limit is configured.
	DefaultRateLimit = 20

	defaultRateLimitWindow = time.Minute
)

// RateLimiter enforces a per-key sliding-window limit. The app keys it by
// Matrix sender so that one noisy participant cannot drive the completion
// spend of a whole room.
//
// RateLimiter is safe for concurrent use.
type RateLimiter struct {
	mu       sync.Mutex
	clock    clock.Clock
	limit    int
	window   time.Duration
	counters map[string][]time.Time // key → timestamps inside the window
}

// NewRateLimiter returns a RateLimiter allowing limit calls per key within
// window. Non-positive values select the defaults. A nil clk uses the real
// clock.
func NewRateLimiter(limit int, window time.Duration, clk clock.Clock) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &RateLimiter{
		clock:    clk,
		limit:    limit,
		window:   window,
		counters: make(map[string][]time.Time),
	}
}

// Allow records a call for key and reports whether it is within the limit.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	valid := r.pruneLocked(key, now)
	if len(valid) >= r.limit {
		r.counters[key] = valid
		return false
	}
	r.counters[key] = append(valid, now)
	return true
}

// Remaining returns how many more calls key may make in the current window.
func (r *RateLimiter) Remaining(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	valid := r.pruneLocked(key, r.clock.Now())
	r.counters[key] = valid
	if rem := r.limit - len(valid); rem > 0 {
		return rem
	}
	return 0
}

func (r *RateLimiter) pruneLocked(key string, now time.Time) []time.Time {
	cutoff := now.Add(-r.window)
	existing := r.counters[key]
	valid := existing[:0]
	for _, t := range existing {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	return valid
}
