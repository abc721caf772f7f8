// Package errors provides error handling for hirewire.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Structured details for operator-facing diagnostics
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrNotFound) {
//	    // handle not found
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is            = crdb.Is
	IsAny         = crdb.IsAny
	As            = crdb.As
	Unwrap        = crdb.Unwrap
	GetAllHints   = crdb.GetAllHints
	GetAllDetails = crdb.GetAllDetails
)

// Sentinel errors for the orchestration subsystem.
// Use these with errors.Is() for type-safe error checking.
// Wrap them with errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the referenced record does not exist.
	ErrNotFound = New("not found")

	// ErrValidation indicates bad parameters rejected before any record
	// was created. Enqueue calls fail fast and loudly on this.
	ErrValidation = New("validation failed")

	// ErrInvalidPriority indicates an unrecognized symbolic priority level.
	// It wraps ErrValidation so callers can match either.
	ErrInvalidPriority = Wrap(ErrValidation, "invalid priority")

	// ErrCapacity indicates the subscriber limit has been reached.
	ErrCapacity = New("capacity exceeded")

	// ErrRateLimited indicates a rolling-window quota is exhausted.
	ErrRateLimited = New("rate limit exceeded")

	// ErrStoreUnavailable indicates a transient persistence failure. Poll
	// cycles log it and retry on the next tick instead of crashing.
	ErrStoreUnavailable = New("store unavailable")
)

// IsNotFound checks if an error is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsValidation checks if an error is or wraps ErrValidation.
func IsValidation(err error) bool {
	return err != nil && Is(err, ErrValidation)
}

// IsCapacity checks if an error is or wraps ErrCapacity.
func IsCapacity(err error) bool {
	return err != nil && Is(err, ErrCapacity)
}

// NewNotFound creates a not-found error with a formatted message.
func NewNotFound(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewValidation creates a validation error with a formatted message.
func NewValidation(format string, args ...interface{}) error {
	return Wrap(ErrValidation, Newf(format, args...).Error())
}
