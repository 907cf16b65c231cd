package request

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter spaces calls at least Interval apart. A nil or disabled limiter
// never blocks.
type RateLimiter struct {
	lim      *rate.Limiter
	interval time.Duration
}

// NewRateLimiter returns a limiter allowing rpm calls per minute. rpm <= 0 disables it.
func NewRateLimiter(rpm int) *RateLimiter {
	if rpm <= 0 {
		return &RateLimiter{lim: rate.NewLimiter(rate.Inf, 1)}
	}
	interval := time.Minute / time.Duration(rpm)
	// Burst 1: every call after the first waits out the full interval.
	return &RateLimiter{lim: rate.NewLimiter(rate.Every(interval), 1), interval: interval}
}

// Interval returns the minimum spacing between calls.
func (l *RateLimiter) Interval() time.Duration {
	if l == nil {
		return 0
	}
	return l.interval
}

// Wait blocks until the next slot or until ctx is done.
func (l *RateLimiter) Wait(ctx context.Context) error {
	if l == nil || l.lim == nil {
		return ctx.Err()
	}
	return l.lim.Wait(ctx)
}
