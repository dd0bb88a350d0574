package platform

import (
	"context"
	"sync"
	"time"
)

// Limiter is a fixed-window rate limiter for one adapter's outbound calls.
type Limiter struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
	rate        int
	window      time.Duration
	now         func() time.Time
}

// NewLimiter creates a Limiter that allows rate requests per window.
func NewLimiter(rate int, window time.Duration) *Limiter {
	return &Limiter{
		rate:        rate,
		window:      window,
		windowStart: time.Now(),
		now:         time.Now,
	}
}

// Allow reports whether a request fits in the current window and, if so,
// counts it.
func (l *Limiter) Allow() bool {
	return l.reserve() == 0
}

// Wait blocks until a request fits in the window or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		d := l.reserve()
		if d == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
}

// reserve counts a request and returns 0, or returns how long until the
// window resets.
func (l *Limiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.windowStart) >= l.window {
		l.count = 0
		l.windowStart = now
	}
	if l.count < l.rate {
		l.count++
		return 0
	}
	return l.windowStart.Add(l.window).Sub(now)
}
