/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package httpapi exposes the transaction submission service over HTTP.
package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/acronis/go-appkit/httpserver/middleware"
	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/restapi"

	"github.com/acronis/txsubmit/internal/ratelimit"
	"github.com/acronis/txsubmit/internal/submit"
)

// Error codes used in response bodies.
const (
	ErrCodeValidation         = "validationError"
	ErrCodeTooManyRequests    = "tooManyRequests"
	ErrCodeRequestTimeout     = "requestTimeout"
	ErrCodeServiceUnavailable = "serviceUnavailable"
)

// Handler serves the transaction submission API.
type Handler struct {
	orchestrator *submit.Orchestrator
	errDomain    string
}

// NewHandler creates an API handler over the submission orchestrator.
func NewHandler(orchestrator *submit.Orchestrator, errDomain string) *Handler {
	return &Handler{orchestrator: orchestrator, errDomain: errDomain}
}

// RegisterRoutes registers API routes on the given router.
func (h *Handler) RegisterRoutes(router chi.Router) {
	router.Post("/transactions/submit", h.SubmitTransaction)
}

// SubmitTransaction handles POST /v1/transactions/submit.
// Rate limit headers are attached to every response for which a limiter
// decision exists, 200 and 429 alike.
func (h *Handler) SubmitTransaction(rw http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLoggerFromContext(r.Context())

	var req SubmitTransactionRequest
	if err := restapi.DecodeRequestJSONStrict(r, &req, true); err != nil {
		restapi.RespondMalformedRequestOrInternalError(rw, h.errDomain, err, logger)
		return
	}
	priority := 0
	if req.Priority != nil {
		priority = *req.Priority
	}

	result, err := h.orchestrator.Submit(r.Context(), submit.Request{
		AccountID:       req.AccountID,
		TransactionData: req.TransactionData,
		Priority:        priority,
	})
	if result.Decision != nil {
		setRateLimitHeaders(rw, result.Decision)
	}
	if err != nil {
		h.respondSubmitError(rw, err, logger)
		return
	}

	restapi.RespondJSON(rw, &SubmitTransactionResponse{
		TransactionID:                  result.Admission.ID.String(),
		QueuePosition:                  result.Admission.Position,
		EstimatedProcessingTimeSeconds: result.Admission.ETASeconds,
		Status:                         string(result.Admission.Status),
	}, logger)
}

func (h *Handler) respondSubmitError(rw http.ResponseWriter, err error, logger log.FieldLogger) {
	var submitErr *submit.Error
	if !errors.As(err, &submitErr) {
		restapi.RespondInternalError(rw, h.errDomain, logger)
		return
	}
	statusCode, code, message := submitErrKindToHTTP(submitErr.Kind)
	if message == "" {
		message = submitErr.Message
	}
	apiErr := restapi.NewError(h.errDomain, code, message).AddContext("error_id", submitErr.ErrorID)
	restapi.RespondError(rw, statusCode, apiErr, logger)
}

func setRateLimitHeaders(rw http.ResponseWriter, d *ratelimit.Decision) {
	rw.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	rw.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	rw.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	if !d.Allowed {
		rw.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
	}
}

func submitErrKindToHTTP(kind submit.Kind) (statusCode int, code, message string) {
	switch kind {
	case submit.KindValidation:
		// The validation message names the offending field; pass it through.
		return http.StatusBadRequest, ErrCodeValidation, ""
	case submit.KindRateLimited:
		return http.StatusTooManyRequests, ErrCodeTooManyRequests, "Too many requests."
	case submit.KindTimedOut:
		return http.StatusGatewayTimeout, ErrCodeRequestTimeout, "Request timed out."
	case submit.KindUnavailable:
		return http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Service is temporarily unavailable."
	default:
		return http.StatusInternalServerError, restapi.ErrCodeInternal, restapi.ErrMessageInternal
	}
}
