package core

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

// Invalid is a shortcut for a validation error carrying only a message.
func Invalid(msg string) error {
	return &ValidationError{Err: errors.New(msg)}
}

func (err *ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

// NotFound wraps ErrNotFound with the user-facing message shown to the admin.
func NotFound(msg string) error {
	return errors.WithMessage(ErrNotFound, msg)
}

// Conflict wraps ErrConflict the same way NotFound does.
func Conflict(msg string) error {
	return errors.WithMessage(ErrConflict, msg)
}

// ProviderError is a failure reported by the payment provider.
// Code is the provider error code ("resource_missing", ...), Message the text shown to the admin.
type ProviderError struct {
	Code    string
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "payment provider error"
}

func (e *ProviderError) Unwrap() error { return e.Err }

func IsNotFound(err error) bool { return stderrors.Is(err, ErrNotFound) }

func IsConflict(err error) bool { return stderrors.Is(err, ErrConflict) }

func AsValidation(err error) (*ValidationError, bool) {
	var vErr *ValidationError
	ok := stderrors.As(err, &vErr)
	return vErr, ok
}

func AsProvider(err error) (*ProviderError, bool) {
	var pErr *ProviderError
	ok := stderrors.As(err, &pErr)
	return pErr, ok
}

// UserMessage strips the sentinel suffix from not-found / conflict errors.
func UserMessage(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{ErrNotFound, ErrConflict} {
		suffix := ": " + sentinel.Error()
		if stderrors.Is(err, sentinel) && len(msg) > len(suffix) && msg[len(msg)-len(suffix):] == suffix {
			return msg[:len(msg)-len(suffix)]
		}
	}
	return msg
}
