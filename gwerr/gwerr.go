// Package gwerr defines the gateway-wide error taxonomy.
//
// Every expected failure surfaces as a *Error carrying one of the Codes
// below plus a user-facing message; unexpected failures get wrapped with
// CodeInternal so callers never have to type-switch on bare errors.
package gwerr

import "fmt"

// Code is one of the gateway's expected-failure categories.
type Code string

const (
	CodeInvalidRequest     Code = "INVALID_REQUEST"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConflict           Code = "CONFLICT"
	CodeInsufficientFunds  Code = "INSUFFICIENT_FUNDS"
	CodeRiskBlocked        Code = "RISK_BLOCKED"
	CodeNoAvailableChannel Code = "NO_AVAILABLE_CHANNEL"
	CodeNoAvailableAccount Code = "NO_AVAILABLE_ACCOUNT"
	CodeGatewayError       Code = "GATEWAY_ERROR"
	CodeInternal           Code = "INTERNAL"
)

// Error is the gateway's single error type, carrying a taxonomy Code.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an Error around an underlying cause, keeping it unwrap-able.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// Internal wraps an unexpected error as CodeInternal.
func Internal(cause error) *Error {
	return &Error{Code: CodeInternal, Message: "internal error", cause: cause}
}

// Is reports whether err is a *Error of the given code.
func Is(err error, code Code) bool {
	ge, ok := err.(*Error)
	return ok && ge.Code == code
}

// CodeOf extracts the Code from err, defaulting to CodeInternal for
// anything that isn't a *Error.
func CodeOf(err error) Code {
	if ge, ok := err.(*Error); ok {
		return ge.Code
	}
	return CodeInternal
}
