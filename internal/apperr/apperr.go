// Package apperr defines the error taxonomy shared by all communication
// components. Domain packages declare sentinels with New and callers classify
// with CodeOf; the HTTP layer maps codes to status codes.
package apperr

import "errors"

type Code string

const (
	CodeForbidden         Code = "FORBIDDEN"
	CodeNotFound          Code = "NOT_FOUND"
	CodeConflict          Code = "CONFLICT"
	CodeEditWindowExpired Code = "EDIT_WINDOW_EXPIRED"
	CodeInvalidType       Code = "INVALID_TYPE"
	CodeInvalidParent     Code = "INVALID_PARENT"
	CodeLastOwner         Code = "LAST_OWNER"
	CodeCallAlreadyActive Code = "CALL_ALREADY_ACTIVE"
	CodeCallEnded         Code = "CALL_ENDED"
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeRateLimited       Code = "RATE_LIMITED"
)

// Error is a classified domain error. Reason is a stable snake_case token
// suitable for API payloads.
type Error struct {
	Code   Code
	Reason string
}

func New(code Code, reason string) *Error {
	return &Error{Code: code, Reason: reason}
}

func (e *Error) Error() string {
	return e.Reason
}

// CodeOf returns the taxonomy code carried by err, or "" when err is not classified.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// ReasonOf returns the reason token carried by err, or "" when err is not classified.
func ReasonOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Reason
	}
	return ""
}

// Is reports whether err is classified with code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
