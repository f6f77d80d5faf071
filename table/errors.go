package table

import (
	"errors"
	"fmt"
)

// Scan errors.
var (
	ErrColumnNotFound = errors.New("column not found")
	ErrInvalidFilter  = errors.New("invalid filter")
	ErrIteratorClosed = errors.New("batch iterator closed")
)

// TaskError reports the read task that failed a scan.
type TaskError struct {
	Index int
	Path  string
	Cause error
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	return fmt.Sprintf("read task %d (%s): %v", e.Index, e.Path, e.Cause)
}

// Unwrap returns the underlying error.
func (e *TaskError) Unwrap() error {
	return e.Cause
}
