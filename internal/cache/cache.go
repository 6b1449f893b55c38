/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package cache implements the fast cache tier: atomic sliding-window
// counters and the priority-ordered position index. All state held here is
// derived from the durable store and may be rebuilt from it at any time.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AdmitResult is the outcome of an atomic sliding-window check-and-increment.
type AdmitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is the earliest future instant at which Remaining strictly increases.
	ResetAt time.Time
	// RetryAfter is zero when Allowed, otherwise the time until the window
	// next admits one request.
	RetryAfter time.Duration
}

// WindowAdmitter atomically checks and increments a per-key sliding window.
// No two concurrent callers may both be admitted if doing so would exceed
// maxRequests within the window. The window is half-open on the old side:
// an event at t' counts at time t iff t-window < t' <= t.
type WindowAdmitter interface {
	Admit(ctx context.Context, key string, maxRequests int, window time.Duration, now time.Time) (AdmitResult, error)
}

// IndexEntry identifies one pending transaction in the priority index.
type IndexEntry struct {
	Priority  int
	CreatedAt time.Time
	ID        uuid.UUID
}

// PriorityIndex maintains the pending set ordered by
// (priority DESC, created_at ASC, id ASC) and answers 1-based positions.
type PriorityIndex interface {
	// Insert adds the entry and returns its 1-based position among all
	// pending entries. The position is linearizable with respect to
	// concurrent Insert calls.
	Insert(ctx context.Context, e IndexEntry) (int64, error)

	// Remove deletes a served entry; used by the downstream drain.
	Remove(ctx context.Context, e IndexEntry) error

	// Reconcile bulk-populates the index from a durable snapshot on cold cache.
	Reconcile(ctx context.Context, entries []IndexEntry) error

	// Len returns the pending cardinality.
	Len(ctx context.Context) (int64, error)
}

// MaxPriority is the highest supported priority value.
const MaxPriority = 10

// windowKeyPrefix matches the original cache keyspace for per-account windows.
const windowKeyPrefix = "rate_limit:"

// WindowKey returns the cache key of the sliding-window counter for an account.
func WindowKey(accountID string) string {
	return windowKeyPrefix + accountID
}

// indexKey is the single global sorted structure holding all pending entries.
// One structure (rather than 11 priority buckets) keeps the total-position
// query a single rank lookup.
const indexKey = "transaction_queue:pending"

// indexScore maps a priority to a sort key so that higher priorities order first.
func indexScore(priority int) float64 {
	return float64(MaxPriority - priority)
}

// indexMember encodes (created_at, id) so that lexicographic member order
// within one score equals (created_at ASC, id ASC). Nanosecond timestamps are
// zero-padded to fixed width to keep the string order numeric.
func indexMember(createdAt time.Time, id uuid.UUID) string {
	return fmt.Sprintf("%020d:%s", createdAt.UnixNano(), id)
}
