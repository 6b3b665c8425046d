package models

import "errors"

// Service-level failure kinds. Handlers map these onto HTTP status codes
// and the error envelope; services wrap them with context via fmt.Errorf
// and %w so callers can test with errors.Is.
var (
	// ErrNotAuthenticated is returned when an operation requires an owner
	// identity that is not present.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrInsufficientBalance is returned when a deduction exceeds the
	// current balance. The balance is left unchanged.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidTransition is returned when a queue status change does not
	// follow the forward-only state machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEmail is returned when signing up with an email that is
	// already registered.
	ErrDuplicateEmail = errors.New("email already registered")
)
