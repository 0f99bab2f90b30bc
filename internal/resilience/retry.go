package resilience

import (
	"context"
	"log"
	"math/rand"
	"time"
)

// RetryPolicy controls Retry's backoff schedule.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     bool
}

// DefaultRetryPolicy mirrors the executor's transient-error schedule.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries: 3,
	BaseDelay:  2 * time.Second,
	MaxDelay:   30 * time.Second,
	Jitter:     true,
}

// Backoff returns the delay before the given retry attempt (0-based):
// min(base * 2^attempt, max), optionally scaled by a uniform(0.5, 1.5)
// jitter factor.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	factor := int64(1)
	if attempt > 0 {
		if attempt > 30 {
			// Cap the exponent to avoid overflow.
			attempt = 30
		}
		factor = 1 << attempt
	}

	delay := time.Duration(int64(p.BaseDelay) * factor)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter {
		delay = time.Duration(float64(delay) * (0.5 + rand.Float64()))
	}
	return delay
}

// Retry runs fn until it succeeds or the attempt budget is spent, sleeping
// the backoff between attempts. The last error is returned on exhaustion.
// The sleep is interruptible through ctx.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := policy.Backoff(attempt - 1)
			log.Printf("Retry attempt %d/%d in %s", attempt, policy.MaxRetries, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}
	}
	return lastErr
}
