/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status represents a transaction lifecycle state.
type Status string

// Transaction statuses. Transitions form a DAG rooted at StatusPending.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// statusTransitions lists the allowed successor states for each status.
var statusTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusPending},
}

// CanTransitionTo reports whether moving from s to next is an allowed status transition.
// The failed->pending edge is used for retries and is validated against the retry budget
// on the store side.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transaction is a durable row of the transaction_queue table.
// ID and CreatedAt are immutable after insert, and so is Priority.
type Transaction struct {
	ID              uuid.UUID
	AccountID       string
	TransactionData json.RawMessage
	Status          Status
	Priority        int
	RetryCount      int
	MaxRetries      int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ScheduledAt     *time.Time
	ProcessedAt     *time.Time
	ErrorMessage    *string
}

// RateLimitPolicy is a durable row of the rate_limits table.
// (AccountID, LimitType) is unique.
type RateLimitPolicy struct {
	ID            uuid.UUID
	AccountID     string
	LimitType     string
	MaxRequests   int
	WindowSeconds int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Window returns the policy window as a duration.
func (p *RateLimitPolicy) Window() time.Duration {
	return time.Duration(p.WindowSeconds) * time.Second
}
