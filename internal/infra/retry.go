package infra

import (
	"context"
	"log/slog"
	"time"
)

// RetryPolicy is a fixed-delay retry budget. Retries counts attempts after the first.
type RetryPolicy struct {
	Name    string
	Retries int
	Delay   time.Duration
}

// Attempts returns the total number of tries the policy permits.
func (p RetryPolicy) Attempts() int {
	if p.Retries < 0 {
		return 1
	}
	return p.Retries + 1
}

// Retry runs fn until it succeeds, the budget runs out, or ctx is cancelled.
// The last error is returned when every attempt fails.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	attempts := p.Attempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if ctx.Err() != nil || attempt == attempts {
			break
		}
		slog.Warn("retrying after failure",
			"component", "retry", "task", p.Name,
			"attempt", attempt, "of", attempts, "delay", p.Delay, "err", err)
		if err := SleepCtx(ctx, p.Delay); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

// SleepCtx sleeps for d or until ctx is done.
func SleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
