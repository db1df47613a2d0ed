// Package errors provides the standardized error taxonomy of the
// version engine. Every failure a caller can observe carries a stable
// code and a retryability flag.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// ErrCodeInvalidContent: content failed schema validation. Not retryable.
	ErrCodeInvalidContent ErrorCode = "INVALID_CONTENT"
	// ErrCodeTemplateNotFound: unknown template identifier. Not retryable.
	ErrCodeTemplateNotFound ErrorCode = "TEMPLATE_NOT_FOUND"
	// ErrCodeVersionNotFound: version number outside recorded history. Not retryable.
	ErrCodeVersionNotFound ErrorCode = "VERSION_NOT_FOUND"
	// ErrCodeConcurrentModification: optimistic-concurrency loss; retry
	// with a freshly read head, bounded at the caller.
	ErrCodeConcurrentModification ErrorCode = "CONCURRENT_MODIFICATION"
	// ErrCodeStoreUnavailable: the store adapter failed or timed out.
	// Transient; retryable with backoff.
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	// ErrCodeInternalInvariantViolation: the engine detected corrupted
	// state (e.g. a delta that does not reproduce its target). Fails
	// loudly, never retried.
	ErrCodeInternalInvariantViolation ErrorCode = "INTERNAL_INVARIANT_VIOLATION"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error { return e.cause }

// Is matches two StandardErrors by code, so errors.Is works against
// the sentinel constructors without caring about details.
func (e *StandardError) Is(target error) bool {
	var std *StandardError
	if !errors.As(target, &std) {
		return false
	}
	return e.Code == std.Code
}

// NewInvalidContentError creates a non-retryable validation error.
func NewInvalidContentError(reason error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidContent,
		Message:   "Content failed schema validation",
		Details:   reason.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     reason,
	}
}

// NewTemplateNotFoundError creates a non-retryable lookup error.
func NewTemplateNotFoundError(templateID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateNotFound,
		Message:   "Template not found",
		Details:   fmt.Sprintf("templateId: %s", templateID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewVersionNotFoundError creates a non-retryable lookup error.
func NewVersionNotFoundError(templateID string, versionNumber int) *StandardError {
	return &StandardError{
		Code:      ErrCodeVersionNotFound,
		Message:   "Version not found",
		Details:   fmt.Sprintf("templateId: %s, version: %d", templateID, versionNumber),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewConcurrentModificationError signals that another writer advanced
// the head between read and append.
func NewConcurrentModificationError(templateID string, expectedHead int) *StandardError {
	return &StandardError{
		Code:      ErrCodeConcurrentModification,
		Message:   "Template head advanced concurrently",
		Details:   fmt.Sprintf("templateId: %s, expectedHead: %d", templateID, expectedHead),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewStoreUnavailableError wraps a transport or transaction failure of
// the version store.
func NewStoreUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStoreUnavailable,
		Message:   "Version store unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewInternalInvariantViolationError reports corrupted engine state.
func NewInternalInvariantViolationError(invariant string, err error) *StandardError {
	details := invariant
	if err != nil {
		details = fmt.Sprintf("%s: %s", invariant, err.Error())
	}
	return &StandardError{
		Code:      ErrCodeInternalInvariantViolation,
		Message:   "Internal invariant violated",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// GetRetryCount returns the recommended bounded retry count per code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeConcurrentModification:
		return 3 // re-read head and retry
	case ErrCodeStoreUnavailable:
		return 3 // retry with backoff
	default:
		return 0 // validation/lookup/invariant errors: no retry
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// CodeOf extracts the taxonomy code from an error chain, or empty.
func CodeOf(err error) ErrorCode {
	var std *StandardError
	if errors.As(err, &std) {
		return std.Code
	}
	return ""
}

// HasCode reports whether err carries the given taxonomy code.
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
