package resilience

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter bounds callers to maxCalls per window, with burst capacity for
// the full window. Acquire blocks until a slot frees up or the context is
// cancelled.
type RateLimiter struct {
	limiter *rate.Limiter
}

func NewRateLimiter(maxCalls int, window time.Duration) *RateLimiter {
	if maxCalls <= 0 {
		maxCalls = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Every(window/time.Duration(maxCalls)), maxCalls),
	}
}

// Acquire blocks the caller until a call slot is available.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// TryAcquire reports whether a slot was free right now, without blocking.
func (r *RateLimiter) TryAcquire() bool {
	return r.limiter.Allow()
}
