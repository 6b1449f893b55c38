/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package submit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerTripsAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerOpts{FailureThreshold: 2, Window: time.Minute, Cooldown: time.Minute})

	require.True(t, cb.Allow())
	cb.OnFailure()
	require.True(t, cb.Allow())
	cb.OnFailure()
	require.True(t, cb.Allow())
	cb.OnFailure()
	require.False(t, cb.Allow())
}

func TestCircuitBreakerClosesAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerOpts{FailureThreshold: 1, Window: time.Minute, Cooldown: 20 * time.Millisecond})

	cb.OnFailure()
	cb.OnFailure()
	require.False(t, cb.Allow())

	time.Sleep(30 * time.Millisecond)
	require.True(t, cb.Allow())
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerOpts{FailureThreshold: 2, Window: time.Minute, Cooldown: time.Minute})

	cb.OnFailure()
	cb.OnFailure()
	cb.OnSuccess()
	cb.OnFailure()
	cb.OnFailure()
	require.True(t, cb.Allow())
}

func TestCircuitBreakerRollingWindowForgetsOldFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerOpts{FailureThreshold: 2, Window: 20 * time.Millisecond, Cooldown: time.Minute})

	cb.OnFailure()
	cb.OnFailure()
	time.Sleep(30 * time.Millisecond)

	// The previous failures fell out of the rolling window.
	cb.OnFailure()
	require.True(t, cb.Allow())
}

func TestNilCircuitBreakerAlwaysAllows(t *testing.T) {
	var cb *CircuitBreaker
	require.True(t, cb.Allow())
	cb.OnFailure()
	cb.OnSuccess()
}
