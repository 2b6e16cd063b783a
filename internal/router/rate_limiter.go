package router

import (
	"sync"
	"time"
)

// RateLimiter allows a fixed number of events per user per one-minute
// window. The window starts at the user's first event and resets a minute
// later.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	now     func() time.Time
	clients map[string]*clientLimit
}

type clientLimit struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter returns a limiter allowing perMinute events. A non-positive
// perMinute disables limiting.
func NewRateLimiter(perMinute int, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		limit:   perMinute,
		now:     now,
		clients: make(map[string]*clientLimit),
	}
}

func (rl *RateLimiter) Allow(userID string) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	limit, ok := rl.clients[userID]
	if !ok || now.Sub(limit.windowStart) >= time.Minute {
		rl.clients[userID] = &clientLimit{count: 1, windowStart: now}
		return true
	}
	if limit.count >= rl.limit {
		return false
	}
	limit.count++
	return true
}

// Cleanup forgets users idle for five windows.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for userID, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*time.Minute {
			delete(rl.clients, userID)
		}
	}
}

func (rl *RateLimiter) tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
