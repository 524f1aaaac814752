package http

import (
	"slices"
	"sync"
	"time"

	"github.com/dkeye/voiceplay/internal/domain"
)

// RequesterRateLimiter allows at most limit play requests per requester
// within a sliding interval.
type RequesterRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.RequesterID][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewRequesterRateLimiter(limit int, interval time.Duration) *RequesterRateLimiter {
	return &RequesterRateLimiter{
		history:  make(map[domain.RequesterID][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *RequesterRateLimiter) Allow(id domain.RequesterID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.trim(now)

	attempts := rl.history[id]
	if len(attempts) >= rl.limit {
		return false
	}
	rl.history[id] = append(attempts, now)
	return true
}

// trim drops attempts that fell out of the window, and requesters left with
// none. Attempts are appended in time order, so only a prefix expires.
func (rl *RequesterRateLimiter) trim(now time.Time) {
	windowStart := now.Add(-rl.interval)
	for id, attempts := range rl.history {
		n, _ := slices.BinarySearchFunc(attempts, windowStart, func(t, start time.Time) int {
			if t.After(start) {
				return 1
			}
			return -1
		})
		if n == len(attempts) {
			delete(rl.history, id)
			continue
		}
		rl.history[id] = attempts[n:]
	}
}
