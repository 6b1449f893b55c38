/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-appkit/log"

	"github.com/acronis/txsubmit/internal/store"
	"github.com/acronis/txsubmit/internal/store/storetest"
)

func newTestResolver(t *testing.T, policies PolicyGetter) *PolicyResolver {
	t.Helper()
	resolver, err := NewPolicyResolver(policies, log.NewDisabledLogger(), PolicyResolverOpts{})
	require.NoError(t, err)
	return resolver
}

func TestPolicyResolverDefaultsWhenNoRow(t *testing.T) {
	st := storetest.New()
	resolver := newTestResolver(t, st)

	policy := resolver.Resolve(context.Background(), "account-a")
	require.Equal(t, DefaultPolicy(), policy)

	// The absence is memoized like a real row.
	policy = resolver.Resolve(context.Background(), "account-a")
	require.Equal(t, DefaultPolicy(), policy)
	require.Equal(t, 1, st.GetRateLimitCalls())
}

func TestPolicyResolverUsesStoredPolicy(t *testing.T) {
	st := storetest.New()
	require.NoError(t, st.UpsertRateLimit(context.Background(), "account-a", LimitTypeSubmission, 100, 60))
	resolver := newTestResolver(t, st)

	policy := resolver.Resolve(context.Background(), "account-a")
	require.Equal(t, Policy{MaxRequests: 100, Window: time.Minute}, policy)

	policy = resolver.Resolve(context.Background(), "account-a")
	require.Equal(t, 100, policy.MaxRequests)
	require.Equal(t, 1, st.GetRateLimitCalls())
}

func TestPolicyResolverFallsBackOnStoreErrorWithoutCaching(t *testing.T) {
	st := storetest.New()
	st.GetRateLimitErr = errors.New("connection refused")
	resolver := newTestResolver(t, st)

	policy := resolver.Resolve(context.Background(), "account-a")
	require.Equal(t, DefaultPolicy(), policy)

	// Once the store recovers, the next request picks up the real policy.
	st.GetRateLimitErr = nil
	require.NoError(t, st.UpsertRateLimit(context.Background(), "account-a", LimitTypeSubmission, 500, 60))

	policy = resolver.Resolve(context.Background(), "account-a")
	require.Equal(t, 500, policy.MaxRequests)
	require.Equal(t, 2, st.GetRateLimitCalls())
}

// slowPolicyGetter blocks every lookup long enough for concurrent misses to pile up.
type slowPolicyGetter struct {
	calls atomic.Int64
}

func (g *slowPolicyGetter) GetRateLimit(_ context.Context, _, _ string) (*store.RateLimitPolicy, error) {
	g.calls.Add(1)
	time.Sleep(50 * time.Millisecond)
	return nil, store.ErrNotFound
}

func TestPolicyResolverCoalescesConcurrentMisses(t *testing.T) {
	getter := &slowPolicyGetter{}
	resolver := newTestResolver(t, getter)

	var wg sync.WaitGroup
	policies := make([]Policy, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			policies[i] = resolver.Resolve(context.Background(), "account-a")
		}(i)
	}
	wg.Wait()

	for _, policy := range policies {
		require.Equal(t, DefaultPolicy(), policy)
	}
	require.Equal(t, int64(1), getter.calls.Load())
}
