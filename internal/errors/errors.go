// Package errors provides structured error types for the curation pipeline.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout           = errors.New("operation timed out")
	ErrAuthFailure       = errors.New("authentication failed")
	ErrRateLimit         = errors.New("rate limit exceeded")
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnavailable       = errors.New("service unavailable")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidReceipt    = errors.New("invalid merge receipt")
	ErrReceiptMismatch   = errors.New("receipt does not match approved candidates")
	ErrReceiptReused     = errors.New("merge receipt already applied")
	ErrQueueFull         = errors.New("queue full")
)

// APIError represents an error from an external API call.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (status %d): %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError creates a new API error.
func NewAPIError(service string, statusCode int, message string) *APIError {
	return &APIError{Service: service, StatusCode: statusCode, Message: message}
}

// TransitionError reports a refused candidate status change.
type TransitionError struct {
	CandidateID string
	From        string
	To          string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("candidate %s: cannot transition %s -> %s", e.CandidateID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// ValidationError carries the specific reason a merge receipt was refused.
// Kind is ErrInvalidReceipt, ErrReceiptMismatch or ErrReceiptReused.
type ValidationError struct {
	Kind   error
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s", e.Kind, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Kind }

// NewValidationError builds a ValidationError with a formatted reason.
func NewValidationError(kind error, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// WriteError wraps a failed write to one of the merge target stores.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// IsRetryable returns true if the error is likely transient and worth retrying.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimit) || errors.Is(err, ErrUnavailable)
}

// IsValidation reports whether err is a receipt validation failure.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
