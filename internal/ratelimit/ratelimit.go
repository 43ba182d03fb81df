// Package ratelimit provides a small fixed-window limiter used to slow
// down brute-force probing of the license validation endpoint.
package ratelimit

import (
	"sync"
	"time"
)

type RateLimit interface {
	Allow(key string) bool
}

type window struct {
	count   int
	started time.Time
}

type FixedWindowLimiter struct {
	maxRequests int
	interval    time.Duration
	windows     map[string]*window
	mutex       sync.Mutex
	now         func() time.Time
}

func New(maxRequests int, interval time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		maxRequests: maxRequests,
		interval:    interval,
		windows:     make(map[string]*window),
		now:         time.Now,
	}
}

func (rl *FixedWindowLimiter) Allow(key string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	w := rl.windows[key]

	if w == nil || now.Sub(w.started) > rl.interval {
		if rl.maxRequests == 0 {
			return false
		}
		rl.windows[key] = &window{count: 1, started: now}
		return true
	}

	if w.count >= rl.maxRequests {
		return false
	}
	w.count++

	return true
}
