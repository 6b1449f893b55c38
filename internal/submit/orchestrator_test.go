/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package submit

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-appkit/log"

	"github.com/acronis/txsubmit/internal/cache"
	"github.com/acronis/txsubmit/internal/queue"
	"github.com/acronis/txsubmit/internal/ratelimit"
	"github.com/acronis/txsubmit/internal/store"
	"github.com/acronis/txsubmit/internal/store/storetest"
)

var testPayload = json.RawMessage(`{"k":1}`)

// countingAdmitter wraps a WindowAdmitter and counts admit round trips.
type countingAdmitter struct {
	inner cache.WindowAdmitter
	calls int
}

func (a *countingAdmitter) Admit(
	ctx context.Context, key string, maxRequests int, window time.Duration, now time.Time,
) (cache.AdmitResult, error) {
	a.calls++
	return a.inner.Admit(ctx, key, maxRequests, window, now)
}

type testEnv struct {
	store        *storetest.Store
	admitter     *countingAdmitter
	orchestrator *Orchestrator
}

func newTestEnv(t *testing.T, opts Opts) *testEnv {
	t.Helper()
	st := storetest.New()
	localAdmitter, err := cache.NewLocalWindowAdmitter(100)
	require.NoError(t, err)
	admitter := &countingAdmitter{inner: localAdmitter}

	resolver, err := ratelimit.NewPolicyResolver(st, log.NewDisabledLogger(), ratelimit.PolicyResolverOpts{})
	require.NoError(t, err)
	limiter := ratelimit.NewLimiter(resolver, admitter)
	coordinator := queue.NewCoordinator(st, cache.NewLocalPriorityIndex(), 0, log.NewDisabledLogger())

	return &testEnv{
		store:        st,
		admitter:     admitter,
		orchestrator: NewOrchestrator(limiter, coordinator, log.NewDisabledLogger(), opts),
	}
}

func requireSubmitErrKind(t *testing.T, err error, kind Kind) *Error {
	t.Helper()
	require.Error(t, err)
	submitErr, ok := err.(*Error)
	require.True(t, ok, "error must be *submit.Error, got %T", err)
	require.Equal(t, kind, submitErr.Kind)
	require.NotEmpty(t, submitErr.ErrorID)
	return submitErr
}

func TestOrchestratorAdmitsValidRequest(t *testing.T) {
	env := newTestEnv(t, Opts{})

	result, err := env.orchestrator.Submit(context.Background(), Request{
		AccountID:       "account-a",
		TransactionData: testPayload,
		Priority:        0,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Decision)
	require.True(t, result.Decision.Allowed)
	require.Equal(t, 20, result.Decision.Limit)
	require.Equal(t, 19, result.Decision.Remaining)
	require.NotNil(t, result.Admission)
	require.Equal(t, int64(1), result.Admission.Position)
	require.Equal(t, store.StatusPending, result.Admission.Status)
	require.Equal(t, 1, env.store.TransactionCount())
}

func TestOrchestratorValidation(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"empty account id", Request{AccountID: "", TransactionData: testPayload}},
		{"account id too long", Request{AccountID: strings.Repeat("a", 257), TransactionData: testPayload}},
		{"priority below range", Request{AccountID: "a", TransactionData: testPayload, Priority: -1}},
		{"priority above range", Request{AccountID: "a", TransactionData: testPayload, Priority: 11}},
		{"missing payload", Request{AccountID: "a"}},
		{"null payload", Request{AccountID: "a", TransactionData: json.RawMessage("null")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Opts{})
			result, err := env.orchestrator.Submit(context.Background(), tt.req)
			requireSubmitErrKind(t, err, KindValidation)
			require.Nil(t, result.Decision)

			// No side effects: nothing durable, nothing counted.
			require.Equal(t, 0, env.store.TransactionCount())
			require.Equal(t, 0, env.admitter.calls)
		})
	}
}

func TestOrchestratorDeniedRequestLeavesNoDurableState(t *testing.T) {
	env := newTestEnv(t, Opts{})
	require.NoError(t, env.store.UpsertRateLimit(context.Background(), "account-a", ratelimit.LimitTypeSubmission, 1, 60))

	_, err := env.orchestrator.Submit(context.Background(), Request{AccountID: "account-a", TransactionData: testPayload})
	require.NoError(t, err)

	result, err := env.orchestrator.Submit(context.Background(), Request{AccountID: "account-a", TransactionData: testPayload})
	requireSubmitErrKind(t, err, KindRateLimited)
	require.NotNil(t, result.Decision)
	require.False(t, result.Decision.Allowed)
	require.Equal(t, 0, result.Decision.Remaining)
	require.Greater(t, result.Decision.RetryAfter, time.Duration(0))

	// Only the admitted request reached the store.
	require.Equal(t, 1, env.store.TransactionCount())
}

func TestOrchestratorMapsStoreUnavailability(t *testing.T) {
	env := newTestEnv(t, Opts{})
	env.store.InsertErr = store.ErrUnavailable

	result, err := env.orchestrator.Submit(context.Background(), Request{AccountID: "account-a", TransactionData: testPayload})
	requireSubmitErrKind(t, err, KindUnavailable)
	require.NotNil(t, result.Decision)
	require.Nil(t, result.Admission)
}

func TestOrchestratorBreakerShortCircuitsAfterStoreFailures(t *testing.T) {
	breaker := NewCircuitBreaker(CircuitBreakerOpts{FailureThreshold: 2, Window: time.Minute, Cooldown: time.Minute})
	env := newTestEnv(t, Opts{Breaker: breaker})
	env.store.InsertErr = store.ErrUnavailable

	for i := 0; i < 3; i++ {
		_, err := env.orchestrator.Submit(context.Background(), Request{AccountID: "account-a", TransactionData: testPayload})
		requireSubmitErrKind(t, err, KindUnavailable)
	}
	admitCallsBeforeTrip := env.admitter.calls

	// The breaker is open: the limiter and the store are both bypassed, so the
	// request is not counted against the window.
	result, err := env.orchestrator.Submit(context.Background(), Request{AccountID: "account-a", TransactionData: testPayload})
	requireSubmitErrKind(t, err, KindUnavailable)
	require.Nil(t, result.Decision)
	require.Equal(t, admitCallsBeforeTrip, env.admitter.calls)
}

// timingOutAdmitter simulates an admit round trip that outlives the deadline.
type timingOutAdmitter struct{}

func (timingOutAdmitter) Admit(
	ctx context.Context, _ string, _ int, _ time.Duration, _ time.Time,
) (cache.AdmitResult, error) {
	<-ctx.Done()
	return cache.AdmitResult{}, ctx.Err()
}

func TestOrchestratorTimesOutBeforeDurableWrite(t *testing.T) {
	st := storetest.New()
	resolver, err := ratelimit.NewPolicyResolver(st, log.NewDisabledLogger(), ratelimit.PolicyResolverOpts{})
	require.NoError(t, err)
	limiter := ratelimit.NewLimiter(resolver, timingOutAdmitter{})
	coordinator := queue.NewCoordinator(st, cache.NewLocalPriorityIndex(), 0, log.NewDisabledLogger())
	orchestrator := NewOrchestrator(limiter, coordinator, log.NewDisabledLogger(), Opts{Timeout: 10 * time.Millisecond})

	_, err = orchestrator.Submit(context.Background(), Request{AccountID: "account-a", TransactionData: testPayload})
	requireSubmitErrKind(t, err, KindTimedOut)
	require.Equal(t, 0, st.TransactionCount())
}
