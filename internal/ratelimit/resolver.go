/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/lrucache"

	"github.com/acronis/txsubmit/internal/store"
)

// DefaultPolicyCacheMaxKeys is a default bound for the policy memoization.
const DefaultPolicyCacheMaxKeys = 10000

// DefaultPolicyCacheTTL is a default TTL for memoized policies.
const DefaultPolicyCacheTTL = time.Minute

// PolicyGetter is the slice of the durable store the resolver needs.
type PolicyGetter interface {
	GetRateLimit(ctx context.Context, accountID, limitType string) (*store.RateLimitPolicy, error)
}

// PolicyResolverOpts represents options for NewPolicyResolver.
type PolicyResolverOpts struct {
	MaxKeys int
	TTL     time.Duration

	// MetricsCollector collects hit/miss statistics of the memoization.
	// May be nil, in this case metrics are disabled.
	MetricsCollector lrucache.MetricsCollector
}

// PolicyResolver resolves the effective policy for an account. Lookups are
// memoized in a bounded LRU with a TTL; concurrent misses for the same
// account coalesce into a single store fetch.
type PolicyResolver struct {
	store  PolicyGetter
	cache  *lrucache.LRUCache[string, Policy]
	group  singleflight.Group
	ttl    time.Duration
	logger log.FieldLogger
}

// NewPolicyResolver creates a resolver over the given policy source.
func NewPolicyResolver(policies PolicyGetter, logger log.FieldLogger, opts PolicyResolverOpts) (*PolicyResolver, error) {
	if opts.MaxKeys == 0 {
		opts.MaxKeys = DefaultPolicyCacheMaxKeys
	}
	if opts.TTL == 0 {
		opts.TTL = DefaultPolicyCacheTTL
	}
	cache, err := lrucache.New[string, Policy](opts.MaxKeys, opts.MetricsCollector)
	if err != nil {
		return nil, fmt.Errorf("new LRU cache for policies: %w", err)
	}
	return &PolicyResolver{store: policies, cache: cache, ttl: opts.TTL, logger: logger}, nil
}

// Resolve returns the effective policy for the account. A missing policy row
// resolves to the basic-tier default and is memoized like a real row. A store
// error also resolves to the default (the hot path must not depend on store
// health), is logged, and is not memoized so the next request retries.
func (r *PolicyResolver) Resolve(ctx context.Context, accountID string) Policy {
	if p, ok := r.cache.Get(accountID); ok {
		return p
	}

	v, err, _ := r.group.Do(accountID, func() (interface{}, error) {
		row, err := r.store.GetRateLimit(ctx, accountID, LimitTypeSubmission)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				p := DefaultPolicy()
				r.cache.AddWithTTL(accountID, p, r.ttl)
				return p, nil
			}
			return Policy{}, err
		}
		p := Policy{MaxRequests: row.MaxRequests, Window: row.Window()}
		r.cache.AddWithTTL(accountID, p, r.ttl)
		return p, nil
	})
	if err != nil {
		r.logger.Warn("rate limit policy lookup failed, falling back to default",
			log.String("account_id", accountID), log.Error(err))
		return DefaultPolicy()
	}
	return v.(Policy)
}
