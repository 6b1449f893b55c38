/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acronis/go-appkit/log"
)

const (
	insertTransactionSQL = "INSERT INTO transaction_queue" +
		" (id,account_id,transaction_data,status,priority,retry_count,max_retries,created_at,scheduled_at)" +
		" VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)"

	selectTransactionSQL = "SELECT id,account_id,transaction_data,status,priority,retry_count,max_retries," +
		"created_at,updated_at,scheduled_at,processed_at,error_message" +
		" FROM transaction_queue WHERE id=$1"

	// Counts pending rows strictly ahead of the given (priority, created_at, id)
	// tuple under the queue ordering (priority DESC, created_at ASC, id ASC).
	countPendingBeforeSQL = "SELECT COUNT(*) FROM transaction_queue" +
		" WHERE status='pending'" +
		" AND (priority > $1 OR (priority = $1 AND created_at < $2)" +
		" OR (priority = $1 AND created_at = $2 AND id < $3))"

	// Snapshot of the pending set in queue order, for index reconciliation.
	listPendingSQL = "SELECT id,priority,created_at FROM transaction_queue" +
		" WHERE status='pending'" +
		" ORDER BY priority DESC, created_at ASC, id ASC" +
		" LIMIT $1"

	updateStatusSQL = "UPDATE transaction_queue" +
		" SET status=$3, error_message=NULLIF($4,''), processed_at=$5," +
		" retry_count=retry_count + CASE WHEN $3='pending' THEN 1 ELSE 0 END" +
		" WHERE id=$1 AND status=$2" +
		" AND ($3 <> 'pending' OR retry_count < max_retries)"
)

// InsertTransaction persists a new transaction row.
// Returns ErrConflict on identifier collision (the caller regenerates the id)
// and ErrUnavailable on connectivity loss.
func (s *Postgres) InsertTransaction(ctx context.Context, tx *Transaction) error {
	_, err := s.pool.Exec(ctx, insertTransactionSQL,
		tx.ID, tx.AccountID, tx.TransactionData, tx.Status, tx.Priority,
		tx.RetryCount, tx.MaxRetries, tx.CreatedAt, tx.ScheduledAt)
	return classifyErr(err)
}

// GetTransaction fetches a transaction row by id. Returns ErrNotFound when it does not exist.
func (s *Postgres) GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	var tx Transaction
	err := s.pool.QueryRow(ctx, selectTransactionSQL, id).Scan(
		&tx.ID, &tx.AccountID, &tx.TransactionData, &tx.Status, &tx.Priority,
		&tx.RetryCount, &tx.MaxRetries, &tx.CreatedAt, &tx.UpdatedAt,
		&tx.ScheduledAt, &tx.ProcessedAt, &tx.ErrorMessage)
	if err != nil {
		return nil, classifyErr(err)
	}
	return &tx, nil
}

// UpdateTransactionStatus moves a transaction from one status to another.
// The transition must be an edge of the status DAG; the failed->pending edge
// additionally requires retry budget and bumps retry_count. This operation is
// consumed by the downstream drain, not the submission hot path.
func (s *Postgres) UpdateTransactionStatus(ctx context.Context, id uuid.UUID, from, to Status, errorMessage string) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("status transition %s -> %s is not allowed", from, to)
	}
	var processedAt *time.Time
	if to == StatusCompleted || to == StatusFailed {
		now := time.Now().UTC()
		processedAt = &now
	}
	result, err := s.pool.Exec(ctx, updateStatusSQL, id, from, to, errorMessage, processedAt)
	if err != nil {
		return classifyErr(err)
	}
	if result.RowsAffected() == 0 {
		s.logger.Warn("transaction status update matched no rows",
			log.String("transaction_id", id.String()),
			log.String("from", string(from)),
			log.String("to", string(to)))
		return ErrNotFound
	}
	return nil
}

// ListPending returns up to limit pending transactions in queue order
// (priority DESC, created_at ASC, id ASC). It feeds priority index
// reconciliation on cold or degraded cache.
func (s *Postgres) ListPending(ctx context.Context, limit int) ([]PendingEntry, error) {
	rows, err := s.pool.Query(ctx, listPendingSQL, limit)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	var entries []PendingEntry
	for rows.Next() {
		var e PendingEntry
		if err = rows.Scan(&e.ID, &e.Priority, &e.CreatedAt); err != nil {
			return nil, classifyErr(err)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, classifyErr(err)
	}
	return entries, nil
}

// CountPendingBefore returns the number of pending transactions ordered
// strictly before the given (priority, createdAt, id) tuple. It backs cache
// reconciliation and the degraded position path, not per-request position math.
func (s *Postgres) CountPendingBefore(ctx context.Context, priority int, createdAt time.Time, id uuid.UUID) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, countPendingBeforeSQL, priority, createdAt, id).Scan(&count)
	if err != nil {
		return 0, classifyErr(err)
	}
	return count, nil
}
