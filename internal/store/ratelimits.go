/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package store

import (
	"context"

	"github.com/google/uuid"
)

const (
	selectRateLimitSQL = "SELECT id,account_id,limit_type,max_requests,window_seconds,created_at,updated_at" +
		" FROM rate_limits WHERE account_id=$1 AND limit_type=$2"

	upsertRateLimitSQL = "INSERT INTO rate_limits (id,account_id,limit_type,max_requests,window_seconds)" +
		" VALUES ($1,$2,$3,$4,$5)" +
		" ON CONFLICT (account_id,limit_type)" +
		" DO UPDATE SET max_requests=EXCLUDED.max_requests, window_seconds=EXCLUDED.window_seconds"
)

// GetRateLimit returns the rate limit policy for (accountID, limitType),
// or ErrNotFound when no row exists and the caller should fall back to the tier default.
func (s *Postgres) GetRateLimit(ctx context.Context, accountID, limitType string) (*RateLimitPolicy, error) {
	var p RateLimitPolicy
	err := s.pool.QueryRow(ctx, selectRateLimitSQL, accountID, limitType).Scan(
		&p.ID, &p.AccountID, &p.LimitType, &p.MaxRequests, &p.WindowSeconds, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, classifyErr(err)
	}
	return &p, nil
}

// UpsertRateLimit creates or updates the policy for (accountID, limitType).
// Administrative operation, not part of the submission hot path.
func (s *Postgres) UpsertRateLimit(ctx context.Context, accountID, limitType string, maxRequests, windowSeconds int) error {
	_, err := s.pool.Exec(ctx, upsertRateLimitSQL, uuid.New(), accountID, limitType, maxRequests, windowSeconds)
	return classifyErr(err)
}
