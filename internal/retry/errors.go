package retry

import (
	"errors"
	"fmt"
)

// ErrCanceled is matched by errors returned when the caller's context ends
// before the operation succeeds.
var ErrCanceled = errors.New("retry canceled")

// FatalError is returned when a failure is classified as non-retryable.
type FatalError struct {
	Attempt int
	Rule    string
	Err     error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal failure on attempt %d (%s): %v", e.Attempt, e.Rule, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// ExhaustedError is returned when every allowed attempt failed with a
// retryable error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

func canceled(attempts int, cause error) error {
	return fmt.Errorf("%w after %d attempts: %w", ErrCanceled, attempts, cause)
}
