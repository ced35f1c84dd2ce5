package chat

import (
	"errors"
	"fmt"
)

// Sentinel errors for the mutation surface. Handlers map these onto
// HTTP statuses.
var (
	// ErrNotFound covers both an absent message and, for delete, a
	// message owned by someone else. The two cases are deliberately
	// indistinguishable.
	ErrNotFound = errors.New("message not found")

	// ErrForbidden is the explicit ownership failure used for edit.
	ErrForbidden = errors.New("not the message sender")

	// ErrEditWindowExpired rejects edits past the allowed window.
	ErrEditWindowExpired = errors.New("edit window expired")

	// ErrUnauthorized rejects operations that need an authenticated
	// caller.
	ErrUnauthorized = errors.New("authentication required")
)

// ValidationError reports malformed input such as empty content.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// StorageError wraps an underlying persistence failure so raw store
// errors never cross the API boundary unclassified.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
