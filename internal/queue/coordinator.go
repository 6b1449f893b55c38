/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package queue assigns durable identity to admitted transactions, maintains
// the cached position index, and computes queue position and ETA.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/retry"

	"github.com/acronis/txsubmit/internal/cache"
	"github.com/acronis/txsubmit/internal/store"
)

// DefaultDrainRatePerSec is the downstream drain rate used for ETA computation.
const DefaultDrainRatePerSec = 50

// DefaultMaxRetries is the default retry budget persisted with new transactions.
const DefaultMaxRetries = 3

// insertConflictRetries bounds identifier regeneration on insert collisions.
const insertConflictRetries = 3

// reconcileSnapshotLimit bounds how many pending rows one reconciliation pulls
// from the store. Entries beyond the limit are picked up by later passes.
const reconcileSnapshotLimit = 100000

// reconcileTimeout bounds one background reconciliation pass.
const reconcileTimeout = 30 * time.Second

// QueueStore is the slice of the durable store the coordinator uses.
type QueueStore interface {
	InsertTransaction(ctx context.Context, tx *store.Transaction) error
	CountPendingBefore(ctx context.Context, priority int, createdAt time.Time, id uuid.UUID) (int64, error)
	ListPending(ctx context.Context, limit int) ([]store.PendingEntry, error)
}

// Admission is the successful outcome of one admit operation.
type Admission struct {
	ID uuid.UUID
	// Position is the 1-based rank among pending transactions at the moment
	// of admission. It is a snapshot, not a reservation.
	Position   int64
	ETASeconds int64
	Status     store.Status
}

// Coordinator implements the admission step after the rate limiter has allowed
// a request: durable insert first, then the cache index update. The order is
// fixed so that a transaction is enqueued iff it is durable.
type Coordinator struct {
	store     QueueStore
	index     cache.PriorityIndex
	drainRate float64
	logger    log.FieldLogger

	reconciling atomic.Bool
}

// NewCoordinator creates a coordinator. drainRatePerSec <= 0 selects the default.
func NewCoordinator(txStore QueueStore, index cache.PriorityIndex, drainRatePerSec float64, logger log.FieldLogger) *Coordinator {
	if drainRatePerSec <= 0 {
		drainRatePerSec = DefaultDrainRatePerSec
	}
	return &Coordinator{store: txStore, index: index, drainRate: drainRatePerSec, logger: logger}
}

// Admit persists the transaction and returns its identity, queue position,
// and ETA. An identifier collision regenerates the id and retries the insert
// up to 3 times. If the durable insert succeeds but the index update fails,
// the row is kept and the position is computed from the store (slow path).
func (c *Coordinator) Admit(ctx context.Context, accountID string, payload json.RawMessage, priority int) (Admission, error) {
	var tx *store.Transaction
	insert := func(ctx context.Context) error {
		tx = &store.Transaction{
			ID:              uuid.New(),
			AccountID:       accountID,
			TransactionData: payload,
			Status:          store.StatusPending,
			Priority:        priority,
			MaxRetries:      DefaultMaxRetries,
			CreatedAt:       time.Now().UTC(),
		}
		return c.store.InsertTransaction(ctx, tx)
	}
	isConflict := func(err error) bool { return errors.Is(err, store.ErrConflict) }
	notify := func(err error, _ time.Duration) {
		c.logger.Warn("transaction id collision, regenerating", log.Error(err))
	}
	err := retry.DoWithRetry(ctx, retry.NewConstantBackoffPolicy(0, insertConflictRetries), isConflict, notify, insert)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return Admission{}, fmt.Errorf("insert transaction: id collisions exhausted retries: %w", err)
		}
		return Admission{}, fmt.Errorf("insert transaction: %w", err)
	}

	entry := cache.IndexEntry{Priority: tx.Priority, CreatedAt: tx.CreatedAt, ID: tx.ID}
	position, err := c.index.Insert(ctx, entry)
	if err != nil {
		// The row is durable and the drain will service it; only the position
		// answer degrades to a store count while the index is rebuilt in the
		// background.
		c.logger.Warn("priority index update failed, computing position from store",
			log.String("transaction_id", tx.ID.String()), log.Error(err))
		c.scheduleReconcile()
		ahead, countErr := c.store.CountPendingBefore(ctx, tx.Priority, tx.CreatedAt, tx.ID)
		if countErr != nil {
			return Admission{}, fmt.Errorf("position fallback for durable transaction %s: %w", tx.ID, countErr)
		}
		position = ahead + 1
	}

	return Admission{
		ID:         tx.ID,
		Position:   position,
		ETASeconds: c.eta(position),
		Status:     store.StatusPending,
	}, nil
}

// ReconcileIndex rebuilds the cached priority index from a snapshot of the
// durable pending set. Entries are merged on top of whatever the index
// already holds, so running it concurrently with live admissions is safe.
// Called on startup (cold cache) and after index update failures.
func (c *Coordinator) ReconcileIndex(ctx context.Context) error {
	pending, err := c.store.ListPending(ctx, reconcileSnapshotLimit)
	if err != nil {
		return fmt.Errorf("list pending transactions: %w", err)
	}
	entries := make([]cache.IndexEntry, 0, len(pending))
	for _, p := range pending {
		entries = append(entries, cache.IndexEntry{Priority: p.Priority, CreatedAt: p.CreatedAt, ID: p.ID})
	}
	if err = c.index.Reconcile(ctx, entries); err != nil {
		return fmt.Errorf("reconcile priority index: %w", err)
	}
	c.logger.Info("priority index reconciled", log.Int("entries", len(entries)))
	return nil
}

// scheduleReconcile starts one background reconciliation pass; passes already
// in flight are not duplicated.
func (c *Coordinator) scheduleReconcile() {
	if !c.reconciling.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer c.reconciling.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
		defer cancel()
		if err := c.ReconcileIndex(ctx); err != nil {
			c.logger.Warn("priority index reconciliation failed", log.Error(err))
		}
	}()
}

// eta estimates seconds until processing from the queue position and the
// fixed downstream drain rate.
func (c *Coordinator) eta(position int64) int64 {
	return int64(math.Ceil(float64(position) / c.drainRate))
}
