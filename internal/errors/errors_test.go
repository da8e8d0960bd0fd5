package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIError_Error(t *testing.T) {
	err := NewAPIError("github", 403, "forbidden")
	assert.Contains(t, err.Error(), "github")
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "forbidden")
}

func TestAPIError_WithWrapped(t *testing.T) {
	inner := errors.New("connection refused")
	err := &APIError{Service: "github", StatusCode: 500, Message: "fail", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewAPIError("gh", 429, "rate limit")))
	assert.True(t, IsRetryable(NewAPIError("gh", 502, "bad gateway")))
	assert.True(t, IsRetryable(ErrTimeout))
	assert.True(t, IsRetryable(fmt.Errorf("push: %w", ErrUnavailable)))

	assert.False(t, IsRetryable(NewAPIError("gh", 401, "unauth")))
	assert.False(t, IsRetryable(NewAPIError("gh", 404, "not found")))
	assert.False(t, IsRetryable(ErrAuthFailure))
	assert.False(t, IsRetryable(ErrInvalidTransition))
}

func TestTransitionError_Is(t *testing.T) {
	err := fmt.Errorf("mark: %w", &TransitionError{CandidateID: "CAND-0001", From: "applied", To: "rejected"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "applied -> rejected")
}

func TestValidationError(t *testing.T) {
	err := NewValidationError(ErrReceiptMismatch, "receipt lists %d, %d approved", 2, 1)
	assert.ErrorIs(t, err, ErrReceiptMismatch)
	assert.NotErrorIs(t, err, ErrInvalidReceipt)
	assert.True(t, IsValidation(fmt.Errorf("apply: %w", err)))
	assert.False(t, IsValidation(ErrTimeout))
	assert.Equal(t, "receipt does not match approved candidates: receipt lists 2, 1 approved", err.Error())
}

func TestWriteError_Unwrap(t *testing.T) {
	inner := errors.New("disk full")
	err := &WriteError{Path: "profile.yaml", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "write profile.yaml: disk full", err.Error())
}
