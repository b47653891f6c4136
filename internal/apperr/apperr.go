// Package apperr defines the error taxonomy shared by the round engine,
// the ledger and the insurance module.
//
// Player-facing failures carry a reason code that is safe to return to the
// caller. Persistence faults are reported to operators only.
package apperr

import (
	"errors"
	"net/http"
)

// Code is a machine-readable reason code.
type Code string

const (
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeInvalidPhase        Code = "INVALID_PHASE"
	CodeDuplicateSettlement Code = "DUPLICATE_SETTLEMENT"
	CodePersistenceFailure  Code = "PERSISTENCE_FAILURE"
	CodeInvalidAmount       Code = "INVALID_AMOUNT"
	CodeNotFound            Code = "NOT_FOUND"
	CodeForbidden           Code = "FORBIDDEN"
	CodeInvalidArgument     Code = "INVALID_ARGUMENT"
)

// Error is the domain error type.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus maps the code onto an HTTP status for the REST surface.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeInsufficientBalance:
		return http.StatusPaymentRequired
	case CodeInvalidPhase, CodeDuplicateSettlement:
		return http.StatusConflict
	case CodeInvalidAmount, CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Internal reports whether the error must be hidden from players.
func (e *Error) Internal() bool {
	return e.Code == CodePersistenceFailure
}

// Sentinels for errors.Is checks.
var (
	ErrInsufficientBalance = New(CodeInsufficientBalance, "insufficient balance")
	ErrInvalidPhase        = New(CodeInvalidPhase, "action not allowed in current round phase")
	ErrDuplicateSettlement = New(CodeDuplicateSettlement, "already settled")
	ErrPersistenceFailure  = New(CodePersistenceFailure, "persistence failure")
	ErrInvalidAmount       = New(CodeInvalidAmount, "invalid amount")
	ErrNotFound            = New(CodeNotFound, "not found")
	ErrForbidden           = New(CodeForbidden, "forbidden")
	ErrInvalidArgument     = New(CodeInvalidArgument, "invalid argument")
)

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Persistence wraps a store error. Errors that already carry a code pass
// through unchanged.
func Persistence(message string, cause error) error {
	if cause == nil {
		return nil
	}
	var e *Error
	if errors.As(cause, &e) {
		return cause
	}
	return Wrap(CodePersistenceFailure, message, cause)
}

// CodeOf returns the code carried by err, or CodePersistenceFailure for
// errors outside the taxonomy.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodePersistenceFailure
}

// As extracts the domain error, wrapping unknown errors as internal.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(CodePersistenceFailure, "internal error", err)
}
