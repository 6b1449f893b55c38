/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/acronis/txsubmit/internal/cache"
)

// Limiter decides whether a submission from an account is admitted.
// The whole critical section ("am I under the limit, and if so claim one
// slot") is a single round trip to the cache's atomic primitive; the limiter
// itself holds no mutable state.
type Limiter struct {
	resolver *PolicyResolver
	admitter cache.WindowAdmitter
}

// NewLimiter creates a limiter from a policy resolver and a window admitter.
func NewLimiter(resolver *PolicyResolver, admitter cache.WindowAdmitter) *Limiter {
	return &Limiter{resolver: resolver, admitter: admitter}
}

// Check performs one admission check for the account at the given instant.
// An admit-side cache failure is returned as an error and the request must
// fail closed: it is neither counted nor queued.
func (l *Limiter) Check(ctx context.Context, accountID string, now time.Time) (Decision, error) {
	policy := l.resolver.Resolve(ctx, accountID)

	result, err := l.admitter.Admit(ctx, cache.WindowKey(accountID), policy.MaxRequests, policy.Window, now)
	if err != nil {
		return Decision{}, fmt.Errorf("window admit for account %q: %w", accountID, err)
	}

	return Decision{
		Allowed:    result.Allowed,
		Limit:      result.Limit,
		Remaining:  result.Remaining,
		ResetAt:    result.ResetAt,
		RetryAfter: result.RetryAfter,
	}, nil
}
