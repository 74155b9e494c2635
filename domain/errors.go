package domain

import "errors"

// Sentinel kinds wrapped by every *Error returned from the services.
var (
	ErrValidation = errors.New("validation failed")
	ErrAuth       = errors.New("authentication failed")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
)

// FieldError names a single rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is a domain failure whose message is safe to show to the caller.
type Error struct {
	Kind    error
	Message string
	Fields  []FieldError
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

// Validation reports bad or missing input.
func Validation(msg string, fields ...FieldError) error {
	return &Error{Kind: ErrValidation, Message: msg, Fields: fields}
}

// Unauthorized reports bad credentials.
func Unauthorized(msg string) error {
	return &Error{Kind: ErrAuth, Message: msg}
}

// Conflict reports a uniqueness violation.
func Conflict(msg string) error {
	return &Error{Kind: ErrConflict, Message: msg}
}

// NotFound reports an entity that is missing or owned by someone else.
func NotFound(msg string) error {
	return &Error{Kind: ErrNotFound, Message: msg}
}
