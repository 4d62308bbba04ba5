package apperrors

import (
	"errors"
	"fmt"
)

// RetryableError marks a failure the outbox worker should retry with backoff
// (network errors, provider 5xx, database hiccups).
type RetryableError struct {
	Err error
}

// Error implements the error interface.
func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

// Unwrap returns the wrapped error.
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryable wraps the given error as a RetryableError, adding a message.
func NewRetryable(err error, message string, args ...interface{}) error {
	format := message + ": %w"
	allArgs := append(args, err)
	return &RetryableError{Err: fmt.Errorf(format, allArgs...)}
}

// FatalError marks a failure that will not go away on retry. Jobs failing with
// a FatalError are moved to the terminal failed state.
type FatalError struct {
	Err error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

// Unwrap returns the wrapped error.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatal wraps the given error as a FatalError, adding a message.
func NewFatal(err error, message string, args ...interface{}) error {
	format := message + ": %w"
	allArgs := append(args, err)
	return &FatalError{Err: fmt.Errorf(format, allArgs...)}
}

// --- Standard Error Definitions ---

var (
	// ErrNotFound indicates a requested resource was not found.
	ErrNotFound = errors.New("resource not found")
	// ErrValidation indicates failure during data validation.
	ErrValidation = errors.New("validation failed")
	// ErrDatabase indicates a general database interaction error.
	ErrDatabase = errors.New("database error")
	// ErrProvider indicates a failed call to the telephony/messaging provider.
	ErrProvider = errors.New("provider communication error")
	// ErrUnauthorized indicates an authorization failure.
	ErrUnauthorized = errors.New("unauthorized access")
	// ErrDuplicate indicates a conflict due to duplicate data (e.g., unique constraint).
	ErrDuplicate = errors.New("duplicate resource")
	// ErrConflict indicates a general conflict state.
	ErrConflict = errors.New("resource conflict")
	// ErrBadRequest indicates a malformed or invalid request from the client/caller.
	ErrBadRequest = errors.New("bad request")
	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timeout")
	// ErrRateLimited indicates an operation was rate limited.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidSignature indicates a webhook whose signature could not be verified.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrUnknownTenant indicates no business line owns the addressed number.
	ErrUnknownTenant = errors.New("unknown tenant for destination")
	// ErrPolicyBlocked indicates a business rule forbids the requested action.
	ErrPolicyBlocked = errors.New("blocked by policy")
)

// --- Helper functions for checking ---

// IsRetryable checks if the error is a RetryableError or wraps one.
func IsRetryable(err error) bool {
	var target *RetryableError
	return errors.As(err, &target)
}

// IsFatal checks if the error is a FatalError or wraps one.
func IsFatal(err error) bool {
	var target *FatalError
	return errors.As(err, &target)
}

// IsNotFoundError checks if the error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateError checks if the error is or wraps ErrDuplicate.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// IsPolicyBlocked checks if the error is or wraps ErrPolicyBlocked.
func IsPolicyBlocked(err error) bool {
	return errors.Is(err, ErrPolicyBlocked)
}

// IsUnknownTenant checks if the error is or wraps ErrUnknownTenant.
func IsUnknownTenant(err error) bool {
	return errors.Is(err, ErrUnknownTenant)
}

// IsInvalidSignature checks if the error is or wraps ErrInvalidSignature.
func IsInvalidSignature(err error) bool {
	return errors.Is(err, ErrInvalidSignature)
}

// IsTerminal reports whether a job failing with err must not be retried.
// Policy violations and explicit FatalErrors are terminal; everything else,
// including unclassified errors, is treated as transient.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	if IsRetryable(err) {
		return false
	}
	return IsFatal(err) || IsPolicyBlocked(err)
}
