/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package storetest provides an in-memory Store implementation for tests.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acronis/txsubmit/internal/store"
)

type policyKey struct {
	accountID string
	limitType string
}

// Store is a mutex-guarded in-memory store.Store.
// The zero value is not usable; construct it with New.
type Store struct {
	mu           sync.Mutex
	transactions map[uuid.UUID]*store.Transaction
	policies     map[policyKey]*store.RateLimitPolicy

	// InsertErr, GetRateLimitErr, and CountErr, when set, are returned by the
	// corresponding operations. They allow tests to simulate backend failures.
	InsertErr       error
	GetRateLimitErr error
	CountErr        error

	insertCalls       int
	getRateLimitCalls int
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		transactions: make(map[uuid.UUID]*store.Transaction),
		policies:     make(map[policyKey]*store.RateLimitPolicy),
	}
}

// InsertTransaction implements store.Store.
func (s *Store) InsertTransaction(_ context.Context, tx *store.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertCalls++
	if s.InsertErr != nil {
		return s.InsertErr
	}
	if _, ok := s.transactions[tx.ID]; ok {
		return store.ErrConflict
	}
	txCopy := *tx
	s.transactions[tx.ID] = &txCopy
	return nil
}

// GetTransaction implements store.Store.
func (s *Store) GetTransaction(_ context.Context, id uuid.UUID) (*store.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	txCopy := *tx
	return &txCopy, nil
}

// UpdateTransactionStatus implements store.Store.
func (s *Store) UpdateTransactionStatus(_ context.Context, id uuid.UUID, from, to store.Status, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok || tx.Status != from || !from.CanTransitionTo(to) {
		return store.ErrNotFound
	}
	if to == store.StatusPending && tx.RetryCount >= tx.MaxRetries {
		return store.ErrNotFound
	}
	tx.Status = to
	tx.UpdatedAt = time.Now().UTC()
	if errorMessage != "" {
		tx.ErrorMessage = &errorMessage
	}
	if to == store.StatusPending {
		tx.RetryCount++
	}
	return nil
}

// CountPendingBefore implements store.Store.
func (s *Store) CountPendingBefore(_ context.Context, priority int, createdAt time.Time, id uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CountErr != nil {
		return 0, s.CountErr
	}
	var count int64
	for _, tx := range s.transactions {
		if tx.Status != store.StatusPending {
			continue
		}
		if tx.Priority > priority ||
			(tx.Priority == priority && tx.CreatedAt.Before(createdAt)) ||
			(tx.Priority == priority && tx.CreatedAt.Equal(createdAt) && tx.ID.String() < id.String()) {
			count++
		}
	}
	return count, nil
}

// ListPending implements store.Store.
func (s *Store) ListPending(_ context.Context, limit int) ([]store.PendingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []store.PendingEntry
	for _, tx := range s.transactions {
		if tx.Status != store.StatusPending {
			continue
		}
		entries = append(entries, store.PendingEntry{ID: tx.ID, Priority: tx.Priority, CreatedAt: tx.CreatedAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// GetRateLimit implements store.Store.
func (s *Store) GetRateLimit(_ context.Context, accountID, limitType string) (*store.RateLimitPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getRateLimitCalls++
	if s.GetRateLimitErr != nil {
		return nil, s.GetRateLimitErr
	}
	p, ok := s.policies[policyKey{accountID, limitType}]
	if !ok {
		return nil, store.ErrNotFound
	}
	pCopy := *p
	return &pCopy, nil
}

// UpsertRateLimit implements store.Store.
func (s *Store) UpsertRateLimit(_ context.Context, accountID, limitType string, maxRequests, windowSeconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := policyKey{accountID, limitType}
	now := time.Now().UTC()
	if p, ok := s.policies[key]; ok {
		p.MaxRequests = maxRequests
		p.WindowSeconds = windowSeconds
		p.UpdatedAt = now
		return nil
	}
	s.policies[key] = &store.RateLimitPolicy{
		ID:            uuid.New(),
		AccountID:     accountID,
		LimitType:     limitType,
		MaxRequests:   maxRequests,
		WindowSeconds: windowSeconds,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return nil
}

// TransactionCount returns the number of stored transactions.
func (s *Store) TransactionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transactions)
}

// InsertCalls returns how many times InsertTransaction was called.
func (s *Store) InsertCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertCalls
}

// GetRateLimitCalls returns how many times GetRateLimit was called.
func (s *Store) GetRateLimitCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getRateLimitCalls
}
