package database

import (
	"errors"
	"fmt"
)

var (
	// ErrDatabaseError wraps every failed Supabase call.
	ErrDatabaseError = errors.New("database error")
	// ErrInvalidInput is returned before any call is made.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is matched by NotFoundError.
	ErrNotFound = errors.New("not found")
)

// NotFoundError reports a missing record.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is a Supabase 409 (unique violation).
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 409
}
