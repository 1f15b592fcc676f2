// Package domain holds the error taxonomy shared by the store, the engine and
// the HTTP layer. Handlers map these to status codes in one place.
package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidState    = errors.New("invalid state")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrDuplicateVote   = errors.New("duplicate vote")

	// ErrConflict means a concurrent update won the race; it is always safe
	// to re-read and retry.
	ErrConflict = errors.New("concurrent update conflict")

	ErrStorageFailure = errors.New("storage failure")
	ErrInvalidEntity  = errors.New("invalid entity")
)
