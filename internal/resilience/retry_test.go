package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff_Doubles(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: time.Minute}

	assert.Equal(t, 1*time.Second, p.Backoff(0))
	assert.Equal(t, 2*time.Second, p.Backoff(1))
	assert.Equal(t, 4*time.Second, p.Backoff(2))
	assert.Equal(t, 8*time.Second, p.Backoff(3))
}

func TestBackoff_CapsAtMax(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	assert.Equal(t, 5*time.Second, p.Backoff(10))
}

func TestBackoff_JitterStaysInRange(t *testing.T) {
	p := RetryPolicy{BaseDelay: 4 * time.Second, MaxDelay: time.Minute, Jitter: true}

	for i := 0; i < 100; i++ {
		d := p.Backoff(0)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 6*time.Second)
	}
}

func TestBackoff_LargeAttemptDoesNotOverflow(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: time.Minute}
	assert.Equal(t, time.Minute, p.Backoff(64))
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}

	calls := 0
	err := Retry(context.Background(), policy, func() error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsBudget(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond}

	calls := 0
	err := Retry(context.Background(), policy, func() error {
		calls++
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 3, calls, "initial attempt plus two retries")
}

func TestRetry_CancelledDuringBackoff(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, BaseDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, policy, func() error {
			calls++
			return errBoom
		})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	err := <-done
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, calls)
}

func TestRateLimiter_TryAcquire(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)

	assert.True(t, rl.TryAcquire())
	assert.True(t, rl.TryAcquire())
	assert.False(t, rl.TryAcquire(), "burst spent, third call must be refused")
}

func TestRateLimiter_AcquireHonoursCancel(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	require.True(t, rl.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, rl.Acquire(ctx))
}
