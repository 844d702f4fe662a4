package bot

import (
	"sync"
	"time"
)

const (
	DefaultLookupsPerWindow = 5
	DefaultLookupWindow     = 60 * time.Second
)

// RateLimiter is a sliding-window limiter keyed by Discord user ID.
type RateLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	now      func() time.Time
	requests map[string][]time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultLookupsPerWindow
	}
	if window <= 0 {
		window = DefaultLookupWindow
	}
	return &RateLimiter{
		limit:    limit,
		window:   window,
		now:      time.Now,
		requests: make(map[string][]time.Time),
	}
}

func (r *RateLimiter) Allow(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.window)

	timestamps := r.requests[userID]
	pruned := timestamps[:0]
	for _, t := range timestamps {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}

	if len(pruned) >= r.limit {
		r.requests[userID] = pruned
		return false
	}

	r.requests[userID] = append(pruned, now)
	return true
}

// Limit reports how many lookups a user gets per window.
func (r *RateLimiter) Limit() (int, time.Duration) {
	return r.limit, r.window
}
