package types

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode represents a unified error code across the swarm core.
type ErrorCode string

// Registry and dispatch error codes
const (
	ErrDuplicateBackend   ErrorCode = "DUPLICATE_BACKEND"
	ErrBackendNotFound    ErrorCode = "BACKEND_NOT_FOUND"
	ErrNoBackendAvailable ErrorCode = "NO_BACKEND_AVAILABLE"
	ErrBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	ErrBackendSaturated   ErrorCode = "BACKEND_SATURATED"
	ErrLimiterTimeout     ErrorCode = "LIMITER_TIMEOUT"
	ErrBatchTimeout       ErrorCode = "BATCH_TIMEOUT"
	ErrBatchClosed        ErrorCode = "BATCH_CLOSED"
)

// Remote call error codes
const (
	ErrInvalidRequest  ErrorCode = "INVALID_REQUEST"
	ErrAuthentication  ErrorCode = "AUTHENTICATION"
	ErrUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrForbidden       ErrorCode = "FORBIDDEN"
	ErrRateLimited     ErrorCode = "RATE_LIMITED"
	ErrUpstreamTimeout ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamError   ErrorCode = "UPSTREAM_ERROR"
	ErrNetwork         ErrorCode = "NETWORK"
	ErrInternalError   ErrorCode = "INTERNAL_ERROR"
)

// Error is the structured failure type carried across the swarm: a stable
// code for programmatic handling, a human-readable message, and whatever
// transport metadata is known at the point of failure.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`

	// Backend is the id of the backend the failure came from, when known.
	Backend string `json:"backend,omitempty"`

	// HTTPStatus pins the status the API surface uses; zero means derive
	// it from Code.
	HTTPStatus int `json:"http_status,omitempty"`

	// Retryable marks failures the dispatcher may retry on another backend.
	Retryable bool `json:"retryable"`

	Cause error `json:"-"`
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds an Error from code and message. Metadata is attached with
// the With* chain.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithBackend records which backend produced the failure.
func (e *Error) WithBackend(backend string) *Error {
	e.Backend = backend
	return e
}

// WithRetryable overrides the retry classification.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithHTTPStatus pins the HTTP status the API surface should use.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithCause attaches the underlying error for Unwrap and logging.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// NewDuplicateBackendError reports a registration under an already-taken id.
func NewDuplicateBackendError(id string) *Error {
	return NewError(ErrDuplicateBackend, fmt.Sprintf("backend %q already registered", id)).
		WithHTTPStatus(http.StatusConflict).
		WithBackend(id)
}

// NewBackendNotFoundError reports an operation on an unknown backend id.
func NewBackendNotFoundError(id string) *Error {
	return NewError(ErrBackendNotFound, fmt.Sprintf("backend %q not registered", id)).
		WithHTTPStatus(http.StatusNotFound).
		WithBackend(id)
}

// NewNoBackendAvailableError reports that no registered backend is eligible
// for selection.
func NewNoBackendAvailableError() *Error {
	return NewError(ErrNoBackendAvailable, "no backend available for dispatch").
		WithHTTPStatus(http.StatusServiceUnavailable)
}

// NewBackendUnavailableError reports an admit rejection while a backend is
// cooling down.
func NewBackendUnavailableError(id string) *Error {
	return NewError(ErrBackendUnavailable, fmt.Sprintf("backend %q is unavailable", id)).
		WithHTTPStatus(http.StatusServiceUnavailable).
		WithBackend(id)
}

// NewBackendSaturatedError reports an admit rejection from a probationary
// backend that already runs its maximum of probe calls.
func NewBackendSaturatedError(id string) *Error {
	return NewError(ErrBackendSaturated, fmt.Sprintf("backend %q is saturated during probation", id)).
		WithHTTPStatus(http.StatusServiceUnavailable).
		WithBackend(id)
}

// NewLimiterTimeoutError reports an acquire that did not obtain capacity
// within the bounded wait.
func NewLimiterTimeoutError(id string, wait time.Duration) *Error {
	return NewError(ErrLimiterTimeout, fmt.Sprintf("no capacity on backend %q within %s", id, wait)).
		WithHTTPStatus(http.StatusServiceUnavailable).
		WithBackend(id)
}

// NewBatchTimeoutError marks a task still pending when the batch deadline
// fired. The remote outcome, if any, is unknown to the caller.
func NewBatchTimeoutError() *Error {
	return NewError(ErrBatchTimeout, "batch deadline exceeded before task completed").
		WithHTTPStatus(http.StatusGatewayTimeout)
}

// NewInvalidRequestError reports a permanently malformed request.
func NewInvalidRequestError(message string) *Error {
	return NewError(ErrInvalidRequest, message).WithHTTPStatus(http.StatusBadRequest)
}

// NewAuthenticationError reports a credential rejection. Not retryable.
func NewAuthenticationError(message string) *Error {
	return NewError(ErrAuthentication, message).WithHTTPStatus(http.StatusUnauthorized)
}

// NewRateLimitedError reports an upstream 429. Retryable.
func NewRateLimitedError(message string) *Error {
	return NewError(ErrRateLimited, message).
		WithHTTPStatus(http.StatusTooManyRequests).
		WithRetryable(true)
}

// NewUpstreamTimeoutError reports a call that exceeded its deadline. Retryable.
func NewUpstreamTimeoutError(message string) *Error {
	return NewError(ErrUpstreamTimeout, message).
		WithHTTPStatus(http.StatusGatewayTimeout).
		WithRetryable(true)
}

// NewUpstreamError reports a 5xx-equivalent backend failure. Retryable.
func NewUpstreamError(message string) *Error {
	return NewError(ErrUpstreamError, message).
		WithHTTPStatus(http.StatusBadGateway).
		WithRetryable(true)
}

// NewNetworkError reports a transport-level failure (connection reset, DNS).
// Retryable.
func NewNetworkError(message string) *Error {
	return NewError(ErrNetwork, message).
		WithHTTPStatus(http.StatusBadGateway).
		WithRetryable(true)
}

// NewInternalError reports an unexpected internal failure.
func NewInternalError(message string) *Error {
	return NewError(ErrInternalError, message).WithHTTPStatus(http.StatusInternalServerError)
}

// IsRetryable reports whether err is a swarm error marked retryable.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable
}

// GetErrorCode returns the swarm error code carried by err, or "" for
// foreign errors.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Code
}

// AsError extracts a *Error from an error chain, wrapping foreign errors as
// INTERNAL_ERROR so callers always have a structured form to report.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewInternalError(err.Error()).WithCause(err)
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
