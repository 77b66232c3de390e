// Package errors provides the service's typed application errors.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code classifies an application error for transport mapping.
type Code string

const (
	ErrCodeInternal           Code = "INTERNAL"
	ErrCodeNotFound           Code = "NOT_FOUND"
	ErrCodeInvalidInput       Code = "INVALID_INPUT"
	ErrCodeValidation         Code = "VALIDATION"
	ErrCodeConflict           Code = "CONFLICT"
	ErrCodeUnauthorized       Code = "UNAUTHORIZED"
	ErrCodeForbidden          Code = "FORBIDDEN"
	ErrCodeUnresolvedApprover Code = "UNRESOLVED_APPROVER"
)

// AppError is an error carrying a Code and an optional offending field.
type AppError struct {
	Code    Code
	Message string
	Field   string
	Err     error
}

func (e *AppError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *AppError) Unwrap() error { return e.Err }

// ErrorCode implements Coder.
func (e *AppError) ErrorCode() Code { return e.Code }

// Coder is implemented by errors that know their own Code.
type Coder interface {
	ErrorCode() Code
}

// New creates an AppError.
func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap wraps err with a code and message. Returns nil when err is nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s not found: %s", resource, id)}
}

// InvalidInput reports a malformed request field.
func InvalidInput(field, message string) *AppError {
	return &AppError{Code: ErrCodeInvalidInput, Field: field, Message: message}
}

// Forbidden reports a missing permission.
func Forbidden(permission string) *AppError {
	return &AppError{Code: ErrCodeForbidden, Message: fmt.Sprintf("forbidden: missing permission %q", permission)}
}

// CodeOf returns the Code of the first Coder in err's chain, or ErrCodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var c Coder
	if stderrors.As(err, &c) {
		return c.ErrorCode()
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// As is errors.As re-exported so callers need a single import.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
