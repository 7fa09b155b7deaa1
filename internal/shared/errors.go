package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks input rejected before any state change.
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks a request that clashes with existing state.
	ErrConflict = errors.New("conflict")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

// NewValidationError returns an error matching ErrValidation.
func NewValidationError(msg string) error {
	return &kindError{kind: ErrValidation, msg: msg}
}

// NewConflictError returns an error matching ErrConflict.
func NewConflictError(msg string) error {
	return &kindError{kind: ErrConflict, msg: msg}
}

// NewNotFoundError returns an error matching ErrNotFound.
func NewNotFoundError(msg string) error {
	return &kindError{kind: ErrNotFound, msg: msg}
}
