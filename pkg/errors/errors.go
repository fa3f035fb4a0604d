package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for the authentication flows. The invalid-credentials
// message deliberately does not distinguish an unknown identifier from a
// wrong password.
var (
	ErrMissingCredentials  = New("MISSING_CREDENTIALS", http.StatusBadRequest, "identifier and password are required")
	ErrMissingRefreshToken = New("MISSING_REFRESH_TOKEN", http.StatusBadRequest, "refresh token is required")
	ErrMissingAuthHeader   = New("MISSING_AUTH_HEADER", http.StatusBadRequest, "authorization header is required")
	ErrMissingToken        = New("MISSING_TOKEN", http.StatusBadRequest, "bearer token is required")
	ErrInvalidCredentials  = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid identifier or password")
	ErrAccountDisabled     = New("ACCOUNT_DISABLED", http.StatusUnauthorized, "account is disabled")
	ErrInvalidRefreshToken = New("INVALID_REFRESH_TOKEN", http.StatusUnauthorized, "refresh token is invalid")
	ErrInvalidToken        = New("INVALID_TOKEN", http.StatusUnauthorized, "access token is invalid")
	ErrTokenExpired        = New("TOKEN_EXPIRED", http.StatusUnauthorized, "access token has expired")
	ErrNotAuthenticated    = New("NOT_AUTHENTICATED", http.StatusUnauthorized, "not authenticated")
	ErrUserNotFound        = New("USER_NOT_FOUND", http.StatusNotFound, "user not found")
	ErrUpstreamUnavailable = New("UPSTREAM_UNAVAILABLE", http.StatusServiceUnavailable, "upstream dependency unavailable")
	ErrTooManyAttempts     = New("TOO_MANY_ATTEMPTS", http.StatusTooManyRequests, "too many login attempts")
	ErrValidation          = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal            = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Is reports whether err carries the same code as target. Typed errors are
// compared by code so that Clone'd values still match their prototype.
func Is(err error, target *Error) bool {
	if err == nil || target == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == target.Code
}
