package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates lock contention; the caller may safely retry.
	ErrConflict = errors.New("conflict: resource busy")
	// ErrInvalidInput indicates malformed request data.
	ErrInvalidInput = errors.New("invalid input")
)
