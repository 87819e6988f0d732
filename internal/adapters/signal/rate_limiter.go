package signal

import (
	"slices"
	"sync"
	"time"
)

// RateLimiter caps how many requests per method are sent within a sliding
// interval. A limit of zero or less disables it.
type RateLimiter struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *RateLimiter) Allow(method string) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	// attempts are kept in send order, so expired ones form a prefix
	attempts := rl.history[method]
	if i := slices.IndexFunc(attempts, func(t time.Time) bool { return t.After(windowStart) }); i >= 0 {
		attempts = attempts[i:]
	} else {
		attempts = attempts[:0]
	}

	if len(attempts) >= rl.limit {
		rl.history[method] = attempts
		return false
	}
	rl.history[method] = append(attempts, now)
	return true
}
