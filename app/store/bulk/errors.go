package bulk

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrDuplicateWrite returned on the handle of a write for a key which already has a write in flight
	ErrDuplicateWrite = errors.New("duplicate write in progress")
	// ErrClosed returned on the handle of a write submitted after Close
	ErrClosed = errors.New("bulk writer closed")
	// ErrEmptyKey returned on the handle of a write without key
	ErrEmptyKey = errors.New("write key can't be empty")
	// ErrMissingResult set on item the store did not report result for
	ErrMissingResult = errors.New("no result for item in bulk response")
	// ErrShutdownTimeout returned by Close if in-flight batches were not drained in time
	ErrShutdownTimeout = errors.New("shutdown timeout, in-flight batches not drained")
)

// BatchError is a failure of the whole batch, no per-item information available.
// All handles of the batch get the same BatchError.
type BatchError struct {
	Size int
	Err  error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("bulk request of %d items failed: %v", e.Size, e.Err)
}

// Unwrap returns transport error
func (e *BatchError) Unwrap() error { return e.Err }
