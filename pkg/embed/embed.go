// Package embed adapts external embedding providers to the fixed-vector
// contract the lore store expects: blank input is rejected, over-long input
// is truncated deterministically, and provider failures surface as a single
// wrapped error rather than a partial vector.
package embed

import (
	"errors"
	"fmt"
)

// ErrEmptyText is returned when blank or whitespace-only text is submitted
// for embedding. The caller fixes the input; the call is not retried.
var ErrEmptyText = errors.New("embed: empty text provided")

// Error wraps an embedding provider failure with the model identity and the
// underlying cause.
type Error struct {
	Model string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("embed: %s: %v", e.Model, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
