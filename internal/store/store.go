/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package store persists transactions and rate limit policies in PostgreSQL.
// It is the source of truth; everything the cache holds is derived from it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/acronis/go-appkit/log"
)

// Sentinel errors returned by Store implementations. Callers match them with errors.Is.
var (
	// ErrConflict is returned when an insert collides with an existing identifier.
	ErrConflict = errors.New("store: conflict")

	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrUnavailable is returned on connectivity loss or pool exhaustion.
	ErrUnavailable = errors.New("store: unavailable")
)

// PendingEntry is the slice of a pending transaction row needed to rebuild
// the cached priority index.
type PendingEntry struct {
	ID        uuid.UUID
	Priority  int
	CreatedAt time.Time
}

// Store is the durable store contract consumed by the submission path.
type Store interface {
	InsertTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error)
	UpdateTransactionStatus(ctx context.Context, id uuid.UUID, from, to Status, errorMessage string) error
	CountPendingBefore(ctx context.Context, priority int, createdAt time.Time, id uuid.UUID) (int64, error)
	ListPending(ctx context.Context, limit int) ([]PendingEntry, error)
	GetRateLimit(ctx context.Context, accountID, limitType string) (*RateLimitPolicy, error)
	UpsertRateLimit(ctx context.Context, accountID, limitType string, maxRequests, windowSeconds int) error
}

// Postgres implements Store on top of a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger log.FieldLogger
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects to PostgreSQL using the provided URL (pgx pool syntax)
// and verifies connectivity with a ping.
func NewPostgres(ctx context.Context, url string, logger log.FieldLogger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool, logger: logger}, nil
}

// Ping verifies connectivity to the database.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the underlying connection pool.
func (s *Postgres) Close() {
	s.pool.Close()
}

// classifyErr maps driver errors to the store's sentinel errors.
// Unique violations become ErrConflict. Errors without a server response
// (broken connections, exhausted pool) become ErrUnavailable. Context
// cancellation and deadline expiry pass through unchanged so callers can
// distinguish timeouts from backend trouble.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgerrcode.UniqueViolation {
			return errors.Join(ErrConflict, err)
		}
		// The server responded: the backend is up, the statement failed.
		return err
	}
	return errors.Join(ErrUnavailable, err)
}
