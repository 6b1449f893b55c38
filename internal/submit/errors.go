/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package submit

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind classifies submission failures. The HTTP layer maps kinds to status
// codes; the kind never carries raw backend diagnostics.
type Kind int

// Submission error kinds.
const (
	KindValidation Kind = iota
	KindRateLimited
	KindTimedOut
	KindUnavailable
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindRateLimited:
		return "rate_limited"
	case KindTimedOut:
		return "timed_out"
	case KindUnavailable:
		return "unavailable"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a submission failure with a correlation identifier. The identifier
// is logged together with the underlying cause and echoed to the client in
// the response body, so an operator can match a complaint to a log line.
type Error struct {
	Kind    Kind
	Message string
	ErrorID string
	Err     error
}

// newError creates an Error with a fresh correlation identifier.
func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, ErrorID: uuid.NewString(), Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}
