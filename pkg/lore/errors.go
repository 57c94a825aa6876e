package lore

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrNotFound is returned when no record matches the requested title.
	ErrNotFound = errors.New("lore record not found")

	// ErrDuplicateTitle is returned by Create under the reject policy when
	// the title is already taken. Under the default skip policy duplicates
	// are logged and dropped instead.
	ErrDuplicateTitle = errors.New("duplicate title")

	// ErrStoreClosed is returned when trying to use a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrInvalidConfig is returned when store configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// StoreError wraps errors with operation context.
type StoreError struct {
	Op  string // Operation name
	Err error  // Underlying error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("lorestore: %v", e.Err)
	}
	return fmt.Sprintf("lorestore: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target.
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// wrapError wraps an error with operation context.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
