/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package submit

import (
	"sync/atomic"
	"time"
)

// CircuitBreakerOpts configures the store circuit breaker.
type CircuitBreakerOpts struct {
	// FailureThreshold is how many failures within Window are tolerated; the
	// next failure inside the same Window trips the breaker.
	FailureThreshold int64
	// Window is the rolling interval over which failures are counted.
	Window time.Duration
	// Cooldown is how long submissions short-circuit after the breaker trips.
	Cooldown time.Duration
}

// CircuitBreaker counts durable store failures over a rolling window and,
// once tripped, short-circuits submissions to Unavailable for a cooldown.
// Lock-free; all state is in atomics.
type CircuitBreaker struct {
	opts CircuitBreakerOpts

	windowStart atomic.Int64
	failures    atomic.Int64
	openUntil   atomic.Int64
}

// NewCircuitBreaker constructs a breaker, applying defaults for zero options.
func NewCircuitBreaker(opts CircuitBreakerOpts) *CircuitBreaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.Window <= 0 {
		opts.Window = 10 * time.Second
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 30 * time.Second
	}
	return &CircuitBreaker{opts: opts}
}

// Allow reports whether the call should proceed. A nil breaker always allows.
func (cb *CircuitBreaker) Allow() bool {
	if cb == nil {
		return true
	}
	return time.Now().UnixNano() >= cb.openUntil.Load()
}

// OnSuccess records a successful store call, resetting the failure count.
func (cb *CircuitBreaker) OnSuccess() {
	if cb == nil {
		return
	}
	cb.failures.Store(0)
}

// OnFailure records a store failure and trips the breaker when the threshold
// is exceeded within the rolling window.
func (cb *CircuitBreaker) OnFailure() {
	if cb == nil {
		return
	}
	now := time.Now().UnixNano()
	start := cb.windowStart.Load()
	if now-start > int64(cb.opts.Window) {
		if cb.windowStart.CompareAndSwap(start, now) {
			cb.failures.Store(0)
		}
	}
	if cb.failures.Add(1) > cb.opts.FailureThreshold {
		cb.openUntil.Store(now + int64(cb.opts.Cooldown))
	}
}
