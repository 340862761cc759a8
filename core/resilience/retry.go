package resilience

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy bounds the retry loop for transient backend errors.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the initial backoff delay; each attempt doubles it.
	BaseDelay time.Duration

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration

	// JitterPercent is the jitter fraction applied to each delay.
	JitterPercent float64

	// AttemptTimeout bounds each individual backend attempt. An attempt
	// that exceeds it counts as a backend failure, unlike the caller's
	// own deadline. Zero disables the per-attempt bound.
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy returns the default policy: 3 attempts, 1s base delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseDelay:      1 * time.Second,
		MaxDelay:       30 * time.Second,
		JitterPercent:  0.1,
		AttemptTimeout: 1 * time.Second,
	}
}

// Retry runs fn with bounded exponential backoff. Only transient errors are
// retried; any other error returns immediately. Context cancellation aborts
// the loop and returns the context error so callers can distinguish "caller
// cancelled" from "backend failed".
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}

		delay := AddJitter(Delay(attempt, policy.BaseDelay, policy.MaxDelay), policy.JitterPercent)
		if err := wait(ctx, delay); err != nil {
			return lastErr
		}
	}
	return lastErr
}

func wait(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
