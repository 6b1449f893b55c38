/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package submit composes the rate limiter and the queue coordinator into a
// single admission operation with all-or-nothing visibility: a rate-limited
// request never reaches the durable store, and an enqueued request has been
// counted against the limit exactly once.
package submit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/acronis/go-appkit/log"

	"github.com/acronis/txsubmit/internal/cache"
	"github.com/acronis/txsubmit/internal/queue"
	"github.com/acronis/txsubmit/internal/ratelimit"
	"github.com/acronis/txsubmit/internal/store"
)

// DefaultTimeout is the per-submission deadline.
const DefaultTimeout = 500 * time.Millisecond

// MaxAccountIDBytes bounds the client identifier length.
const MaxAccountIDBytes = 256

// Request is one submission to admit.
type Request struct {
	AccountID       string
	TransactionData json.RawMessage
	Priority        int
}

// Result carries the rate limiter decision (present whenever the limiter ran,
// including denials, so the transport can emit rate limit headers on every
// response) and the admission on success.
type Result struct {
	Decision  *ratelimit.Decision
	Admission *queue.Admission
}

// Orchestrator runs the submission path: validate, check the rate limit,
// admit into the durable queue.
type Orchestrator struct {
	limiter     *ratelimit.Limiter
	coordinator *queue.Coordinator
	breaker     *CircuitBreaker
	timeout     time.Duration
	metrics     *PrometheusMetrics
	logger      log.FieldLogger
}

// Opts represents options for NewOrchestrator.
type Opts struct {
	// Timeout is the per-submission deadline. Zero selects DefaultTimeout.
	Timeout time.Duration
	// Breaker short-circuits submissions while the durable store is failing.
	// May be nil, in this case circuit breaking is disabled.
	Breaker *CircuitBreaker
	// Metrics may be nil, in this case metrics are disabled.
	Metrics *PrometheusMetrics
}

// NewOrchestrator creates an orchestrator over the limiter and coordinator.
func NewOrchestrator(limiter *ratelimit.Limiter, coordinator *queue.Coordinator, logger log.FieldLogger, opts Opts) *Orchestrator {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Orchestrator{
		limiter:     limiter,
		coordinator: coordinator,
		breaker:     opts.Breaker,
		timeout:     opts.Timeout,
		metrics:     opts.Metrics,
		logger:      logger,
	}
}

// Submit processes one submission. On failure the returned error is always a
// *submit.Error; the Result still carries the limiter decision when one was
// made, so callers can attach rate limit headers to error responses too.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (Result, error) {
	started := time.Now()
	res, err := o.submit(ctx, req)

	result := "admitted"
	var submitErr *Error
	if errors.As(err, &submitErr) {
		result = submitErr.Kind.String()
		o.logger.Warn("submission failed",
			log.String("account_id", req.AccountID),
			log.String("error_id", submitErr.ErrorID),
			log.Error(err))
	}
	o.metrics.observeSubmission(result, time.Since(started))
	return res, err
}

func (o *Orchestrator) submit(ctx context.Context, req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}

	if !o.breaker.Allow() {
		return Result{}, newError(KindUnavailable, "Service is temporarily unavailable.", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	decision, err := o.limiter.Check(ctx, req.AccountID, time.Now().UTC())
	if err != nil {
		// Fail closed: the request is neither counted nor queued.
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{}, newError(KindTimedOut, "Request timed out.", err)
		}
		return Result{}, newError(KindUnavailable, "Service is temporarily unavailable.", err)
	}
	o.metrics.observeDecision(decision.Allowed)
	res := Result{Decision: &decision}
	if !decision.Allowed {
		return res, newError(KindRateLimited, "Rate limit exceeded.", nil)
	}

	admission, err := o.coordinator.Admit(ctx, req.AccountID, req.TransactionData, req.Priority)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			// The deadline may have expired after the durable insert; in that
			// case the row persists and the drain will still service it.
			return res, newError(KindTimedOut, "Request timed out.", err)
		case errors.Is(err, store.ErrUnavailable):
			o.breaker.OnFailure()
			return res, newError(KindUnavailable, "Service is temporarily unavailable.", err)
		default:
			return res, newError(KindInternal, "Internal error.", err)
		}
	}
	o.breaker.OnSuccess()
	res.Admission = &admission
	return res, nil
}

func validate(req Request) error {
	if req.AccountID == "" || len(req.AccountID) > MaxAccountIDBytes {
		return newError(KindValidation, "account_id must be a non-empty string of at most 256 bytes.", nil)
	}
	if req.Priority < 0 || req.Priority > cache.MaxPriority {
		return newError(KindValidation, "priority must be an integer between 0 and 10.", nil)
	}
	if len(req.TransactionData) == 0 || string(req.TransactionData) == "null" {
		return newError(KindValidation, "transaction_data must be a JSON object.", nil)
	}
	return nil
}
