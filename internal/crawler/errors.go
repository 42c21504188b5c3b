package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a position or URL that is not (yet) in the store.
	ErrNotFound = errors.New("not found")
	// ErrParse marks HTML that yielded nothing indexable.
	ErrParse = errors.New("parse html")
	// ErrValidation marks bad caller input.
	ErrValidation = errors.New("validation failed")
	// ErrIndexBuilding is returned by search while the index-ready gate is closed.
	ErrIndexBuilding = errors.New("index is still building")
	// ErrStorage wraps failures reported by the backing store.
	ErrStorage = errors.New("storage failure")
)

// FetchError is returned once the fetch layer has given up on a URL.
type FetchError struct {
	URL        string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 && e.Err == nil {
		return fmt.Sprintf("fetch %s: status %d after %d attempt(s)", e.URL, e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("fetch %s after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ValidationError describes rejected input. It matches ErrValidation with errors.Is.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// StorageError annotates a store failure with the operation that failed.
func StorageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
