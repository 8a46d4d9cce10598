// Package shared contains common domain types, errors and events that are
// used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound = errors.New("entity not found")

	// Validation errors
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")

	// External service errors
	ErrServiceUnavailable = errors.New("service unavailable")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progress", "leaderboard", "badge"
	Op      string // Operation that failed, e.g., "Award", "Upsert"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Progress domain errors
var (
	ErrSnapshotNotFound = NewDomainError("progress", "Get", ErrNotFound, "progress snapshot not found")
	ErrEmptyUserID      = NewDomainError("progress", "Validate", ErrInvalidID, "user ID cannot be empty")
	ErrNegativeXPDelta  = NewDomainError("progress", "Award", ErrNegativeValue, "xp delta cannot be negative")
	ErrXPDeltaTooLarge  = NewDomainError("progress", "Award", ErrValueOutOfRange, "xp delta exceeds the per-award maximum")
	ErrInvalidQuizScore = NewDomainError("progress", "TrackQuiz", ErrValueOutOfRange, "quiz score must be between 0 and 100")
	ErrInvalidCount     = NewDomainError("progress", "Track", ErrValueOutOfRange, "count must be positive")
)

// Badge domain errors
var (
	ErrBadgeNotFound = NewDomainError("badge", "Lookup", ErrNotFound, "badge not found")
)

// Leaderboard domain errors
var (
	ErrEntryNotFound = NewDomainError("leaderboard", "Find", ErrNotFound, "leaderboard entry not found")
	ErrStaleEntry    = NewDomainError("leaderboard", "Upsert", ErrInvalidState, "a newer entry is already stored")
	ErrInvalidLimit  = NewDomainError("leaderboard", "Top", ErrValueOutOfRange, "limit must be positive")
)

// Notification domain errors
var (
	ErrQueueClosed    = NewDomainError("notification", "Enqueue", ErrInvalidState, "popup queue is closed")
	ErrNothingShowing = NewDomainError("notification", "Dismiss", ErrStateTransition, "no badge is being displayed")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable)
}
