package engine

import (
	"context"
	"time"
)

// DefaultBackoffUnit is the fixed unit for linear retry backoff.
const DefaultBackoffUnit = time.Second

// LinearBackoff returns the delay before the next attempt after the given
// failed attempt (1-based): unit, 2*unit, 3*unit, ...
func LinearBackoff(attempt int, unit time.Duration) time.Duration {
	if attempt < 1 || unit <= 0 {
		return 0
	}
	return time.Duration(attempt) * unit
}

// WaitForBackoff sleeps for the delay or returns early if the context is
// cancelled. Returns the context error on cancellation.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
