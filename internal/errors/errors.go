package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind represents the type of error
type Kind int

const (
	ErrInternal Kind = iota
	ErrNotFound
	ErrValidation
	ErrConflict
	ErrInvalidInput
	ErrPermission
	ErrPartialFailure
)

// String returns a stable name for the kind, used in logs and API error codes
func (k Kind) String() string {
	switch k {
	case ErrNotFound:
		return "not_found"
	case ErrValidation:
		return "validation"
	case ErrConflict:
		return "conflict"
	case ErrInvalidInput:
		return "invalid_input"
	case ErrPermission:
		return "permission"
	case ErrPartialFailure:
		return "partial_failure"
	default:
		return "internal"
	}
}

// Error is an application-level error with a kind for classification
type Error struct {
	Kind    Kind
	Message string
	Err     error // underlying error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match on kind alone, e.g. errors.Is(err, &Error{Kind: ErrConflict})
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Constructor functions for common error types

func NotFound(msg string) *Error {
	return &Error{Kind: ErrNotFound, Message: msg}
}

func NotFoundf(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

func Validation(msg string) *Error {
	return &Error{Kind: ErrValidation, Message: msg}
}

func Validationf(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

func Conflict(msg string) *Error {
	return &Error{Kind: ErrConflict, Message: msg}
}

func Conflictf(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrConflict, Message: fmt.Sprintf(format, args...)}
}

func InvalidInput(msg string) *Error {
	return &Error{Kind: ErrInvalidInput, Message: msg}
}

func InvalidInputf(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func Permission(msg string) *Error {
	return &Error{Kind: ErrPermission, Message: msg}
}

func Permissionf(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrPermission, Message: fmt.Sprintf(format, args...)}
}

// PartialFailure marks a multi-document operation that stopped part way.
// The caller may retry the whole operation.
func PartialFailure(err error, msg string) *Error {
	return &Error{Kind: ErrPartialFailure, Message: msg, Err: err}
}

func Internal(err error) *Error {
	return &Error{Kind: ErrInternal, Message: "internal error", Err: err}
}

func Internalf(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrInternal, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an error with additional context
func Wrap(err error, kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or ErrInternal
func KindOf(err error) Kind {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return ErrInternal
}

func IsNotFound(err error) bool       { return err != nil && KindOf(err) == ErrNotFound }
func IsValidation(err error) bool     { k := KindOf(err); return err != nil && (k == ErrValidation || k == ErrInvalidInput) }
func IsConflict(err error) bool       { return err != nil && KindOf(err) == ErrConflict }
func IsPermission(err error) bool     { return err != nil && KindOf(err) == ErrPermission }
func IsPartialFailure(err error) bool { return err != nil && KindOf(err) == ErrPartialFailure }
