// Package infra provides shared infrastructure components used across
// the application: caching, outbound rate limiting, HTTP utilities, and retries.
package infra

import (
	"context"
	"time"
)

// --- Rate limiter ---

// Limiter is anything that paces outbound calls.
type Limiter interface {
	Wait(ctx context.Context) error
}

// RateLimiter enforces a minimum interval between successive acquisitions.
// The one-slot channel owns the "time of last call"; holders are served in
// acquisition order and the interval holds across goroutines.
type RateLimiter struct {
	sem      chan struct{}
	interval time.Duration
	last     time.Time
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewRateLimiter creates a limiter allowing callsPerSecond acquisitions per second.
func NewRateLimiter(callsPerSecond float64) *RateLimiter {
	return NewRateLimiterWithClock(callsPerSecond, time.Now, SleepCtx)
}

// NewRateLimiterWithClock is NewRateLimiter with an injected clock and sleeper.
func NewRateLimiterWithClock(callsPerSecond float64, now func() time.Time, sleep func(context.Context, time.Duration) error) *RateLimiter {
	var interval time.Duration
	if callsPerSecond > 0 {
		interval = time.Duration(float64(time.Second) / callsPerSecond)
	}
	return &RateLimiter{
		sem:      make(chan struct{}, 1),
		interval: interval,
		now:      now,
		sleep:    sleep,
	}
}

// Interval returns the enforced minimum spacing.
func (rl *RateLimiter) Interval() time.Duration { return rl.interval }

// Wait blocks until at least Interval has passed since the previous acquisition.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	select {
	case rl.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-rl.sem }()

	if !rl.last.IsZero() {
		if d := rl.last.Add(rl.interval).Sub(rl.now()); d > 0 {
			if err := rl.sleep(ctx, d); err != nil {
				return err
			}
		}
	}
	rl.last = rl.now()
	return nil
}
