// Package resilience holds the failure-handling primitives the pipeline
// loops lean on: circuit breaker, retry with backoff, rate limiter and a
// bounded cache.
package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Breaker states.
const (
	StateClosed   = "CLOSED"
	StateOpen     = "OPEN"
	StateHalfOpen = "HALF_OPEN"
)

// ErrBreakerOpen is returned without invoking the wrapped call while the
// breaker is open.
var ErrBreakerOpen = errors.New("resilience: circuit breaker open")

// CircuitBreaker guards a flaky dependency. Consecutive failures trip it
// open; after the recovery timeout trial calls are allowed through, and a
// run of consecutive successes closes it again.
type CircuitBreaker struct {
	mu sync.Mutex

	name             string
	failureThreshold int
	recoveryTimeout  time.Duration
	successThreshold int

	state        string
	failureCount int
	successCount int
	lastFailure  time.Time

	clock func() time.Time
}

func NewCircuitBreaker(name string, failureThreshold int, recoveryTimeout time.Duration, successThreshold int) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if successThreshold <= 0 {
		successThreshold = 1
	}
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		successThreshold: successThreshold,
		state:            StateClosed,
		clock:            time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (cb *CircuitBreaker) WithClock(clock func() time.Time) *CircuitBreaker {
	cb.clock = clock
	return cb
}

// Call runs fn through the breaker. While OPEN it fails fast with
// ErrBreakerOpen until the recovery timeout has elapsed.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.allow() {
		return fmt.Errorf("%w: %s", ErrBreakerOpen, cb.name)
	}

	if err := fn(); err != nil {
		cb.failure()
		return err
	}
	cb.success()
	return nil
}

// State returns the breaker's current state name.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.clock().Sub(cb.lastFailure) >= cb.recoveryTimeout {
			cb.state = StateHalfOpen
			cb.successCount = 0
			return true
		}
		return false
	}
	return true
}

func (cb *CircuitBreaker) success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	if cb.state == StateHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.state = StateClosed
			cb.successCount = 0
		}
	}
}

func (cb *CircuitBreaker) failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = cb.clock()
	if cb.state == StateHalfOpen {
		// One bad trial call sends it straight back.
		cb.state = StateOpen
		cb.successCount = 0
		return
	}

	cb.failureCount++
	if cb.failureCount >= cb.failureThreshold {
		cb.state = StateOpen
	}
}
