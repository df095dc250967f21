// Package errors defines the structured error taxonomy for the gateway.
// Every failure surfaced to the presentation layer carries a stable code, an
// HTTP status, a retryability flag, and an optional retry-after hint.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode is the stable, machine-readable failure category.
type ErrorCode string

const (
	CodeUnauthenticated     ErrorCode = "unauthenticated"
	CodeTokenExpired        ErrorCode = "token_expired"
	CodeRefreshFailed       ErrorCode = "refresh_failed"
	CodeCSRFFailed          ErrorCode = "csrf_failed"
	CodeStateMismatch       ErrorCode = "state_mismatch"
	CodeClientRateLimited   ErrorCode = "client_rate_limited"
	CodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
	CodeRateLimitProtection ErrorCode = "rate_limit_protection"
	CodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	CodeUpstreamRejected    ErrorCode = "upstream_rejected"
	CodeNetworkError        ErrorCode = "network_error"
	CodeInvalidTokenData    ErrorCode = "invalid_token_data"
	CodeDecryptionFailed    ErrorCode = "decryption_failed"
	CodeCircuitOpen         ErrorCode = "circuit_open"
	CodeServerError         ErrorCode = "server_error"
)

// ================================================================================
// Error Interface
// ================================================================================

// GatewayError is the structured error contract used across all layers.
type GatewayError interface {
	error

	// Code returns the stable error code.
	Code() ErrorCode

	// HTTPStatus returns the HTTP status the error maps to.
	HTTPStatus() int

	// Retryable reports whether a caller may retry the failed operation.
	Retryable() bool

	// RetryAfter returns the suggested backoff, zero when not applicable.
	RetryAfter() time.Duration

	// Unwrap returns the underlying cause for error-chain support.
	Unwrap() error

	// WithCause attaches a cause error to the chain.
	WithCause(cause error) GatewayError

	// WithRetryAfter attaches a backoff hint.
	WithRetryAfter(d time.Duration) GatewayError

	// WithMetadata attaches additional context metadata.
	WithMetadata(key string, value interface{}) GatewayError

	// Metadata returns all attached metadata.
	Metadata() map[string]interface{}
}

// ================================================================================
// Base Implementation
// ================================================================================

type baseError struct {
	code       ErrorCode
	httpStatus int
	message    string
	retryable  bool
	retryAfter time.Duration
	cause      error
	metadata   map[string]interface{}
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Code() ErrorCode           { return e.code }
func (e *baseError) HTTPStatus() int           { return e.httpStatus }
func (e *baseError) Retryable() bool           { return e.retryable }
func (e *baseError) RetryAfter() time.Duration { return e.retryAfter }
func (e *baseError) Unwrap() error             { return e.cause }

func (e *baseError) WithCause(cause error) GatewayError {
	e.cause = cause
	return e
}

func (e *baseError) WithRetryAfter(d time.Duration) GatewayError {
	e.retryAfter = d
	return e
}

func (e *baseError) WithMetadata(key string, value interface{}) GatewayError {
	if e.metadata == nil {
		e.metadata = make(map[string]interface{})
	}
	e.metadata[key] = value
	return e
}

func (e *baseError) Metadata() map[string]interface{} { return e.metadata }

// NewError creates a GatewayError with explicit parameters.
func NewError(code ErrorCode, httpStatus int, message string, retryable bool) GatewayError {
	return &baseError{
		code:       code,
		httpStatus: httpStatus,
		message:    message,
		retryable:  retryable,
	}
}

// ================================================================================
// Predefined Constructors
// ================================================================================

// ErrUnauthenticated indicates no credential path yielded a live token.
func ErrUnauthenticated(message string) GatewayError {
	return NewError(CodeUnauthenticated, http.StatusUnauthorized, message, false)
}

// ErrTokenExpired indicates a credential was found but is past its expiry.
func ErrTokenExpired(message string) GatewayError {
	return NewError(CodeTokenExpired, http.StatusUnauthorized, message, false)
}

// ErrRefreshFailed indicates the upstream token endpoint rejected or failed
// a refresh attempt.
func ErrRefreshFailed(message string) GatewayError {
	return NewError(CodeRefreshFailed, http.StatusUnauthorized, message, false)
}

// ErrCSRFFailed indicates a missing or mismatched CSRF token. Never retried.
func ErrCSRFFailed(message string) GatewayError {
	return NewError(CodeCSRFFailed, http.StatusForbidden, message, false)
}

// ErrStateMismatch indicates the OAuth state parameter failed verification.
// Never retried; treated as a possible forgery attempt.
func ErrStateMismatch(message string) GatewayError {
	return NewError(CodeStateMismatch, http.StatusForbidden, message, false)
}

// ErrClientRateLimited indicates the caller exhausted its admission window.
func ErrClientRateLimited(retryAfter time.Duration) GatewayError {
	return NewError(CodeClientRateLimited, http.StatusTooManyRequests,
		"too many requests, slow down", true).WithRetryAfter(retryAfter)
}

// ErrUpstreamRateLimited indicates the provider returned 429.
func ErrUpstreamRateLimited(retryAfter time.Duration) GatewayError {
	return NewError(CodeUpstreamRateLimited, http.StatusTooManyRequests,
		"upstream provider rate limit reached", true).WithRetryAfter(retryAfter)
}

// ErrRateLimitProtection indicates the local quota guard pre-emptively blocked
// a call before the provider could return 429.
func ErrRateLimitProtection(retryAfter time.Duration) GatewayError {
	return NewError(CodeRateLimitProtection, http.StatusTooManyRequests,
		"upstream quota nearly exhausted, call blocked locally", true).
		WithRetryAfter(retryAfter)
}

// ErrUpstreamUnavailable indicates a 5xx from the provider.
func ErrUpstreamUnavailable(message string) GatewayError {
	return NewError(CodeUpstreamUnavailable, http.StatusBadGateway, message, true)
}

// ErrUpstreamRejected indicates a deterministic 4xx from the provider, such
// as a missing resource. Never retried: the provider will answer the same
// way every time, and repeats only burn quota. The provider's status passes
// through to the client.
func ErrUpstreamRejected(status int, message string) GatewayError {
	if status < 400 || status >= 500 {
		status = http.StatusBadGateway
	}
	return NewError(CodeUpstreamRejected, status, message, false)
}

// ErrNetwork indicates a transport-level failure reaching the provider.
func ErrNetwork(message string) GatewayError {
	return NewError(CodeNetworkError, http.StatusBadGateway, message, true)
}

// ErrInvalidTokenData indicates a token payload failed field validation.
func ErrInvalidTokenData(message string) GatewayError {
	return NewError(CodeInvalidTokenData, http.StatusBadRequest, message, false)
}

// ErrDecryptionFailed indicates stored ciphertext could not be authenticated.
// Callers must treat this identically to "no token present"; it is recovered
// locally and never surfaced to a client as-is.
func ErrDecryptionFailed(message string) GatewayError {
	return NewError(CodeDecryptionFailed, http.StatusUnauthorized, message, false)
}

// ErrCircuitOpen indicates a circuit breaker fast-failed the call without
// attempting it.
func ErrCircuitOpen(operation string, retryAfter time.Duration) GatewayError {
	return NewError(CodeCircuitOpen, http.StatusServiceUnavailable,
		fmt.Sprintf("circuit open for %s", operation), true).
		WithRetryAfter(retryAfter).
		WithMetadata("operation", operation)
}

// ErrServer is the catch-all for unexpected internal failures.
func ErrServer(message string) GatewayError {
	return NewError(CodeServerError, http.StatusInternalServerError, message, false)
}

// ================================================================================
// Classification Utilities
// ================================================================================

// AsGatewayError finds the first GatewayError in err's chain, so wrappers
// like retry-exhaustion errors never hide the underlying code and status.
func AsGatewayError(err error) (GatewayError, bool) {
	var gwErr GatewayError
	if stderrors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}

// CodeOf returns the error code, or CodeServerError for foreign errors.
func CodeOf(err error) ErrorCode {
	if gwErr, ok := AsGatewayError(err); ok {
		return gwErr.Code()
	}
	return CodeServerError
}

// IsRateLimit reports whether the error is any of the rate-limit categories.
func IsRateLimit(err error) bool {
	switch CodeOf(err) {
	case CodeClientRateLimited, CodeUpstreamRateLimited, CodeRateLimitProtection:
		return true
	}
	return false
}

// IsRetryable reports whether the classified error permits a retry.
func IsRetryable(err error) bool {
	if gwErr, ok := AsGatewayError(err); ok {
		return gwErr.Retryable()
	}
	return false
}

// IsAuthFailure reports whether the error should force re-authentication.
func IsAuthFailure(err error) bool {
	switch CodeOf(err) {
	case CodeUnauthenticated, CodeTokenExpired, CodeRefreshFailed:
		return true
	}
	return false
}

// ================================================================================
// Error Response Builder
// ================================================================================

// ErrorResponse is the JSON shape returned to programmatic callers.
type ErrorResponse struct {
	Error      string                 `json:"error"`
	Message    string                 `json:"message"`
	Retryable  bool                   `json:"retryable"`
	RetryAfter int                    `json:"retry_after_seconds,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ToErrorResponse converts any error into the wire representation. Foreign
// errors collapse to server_error without leaking internals.
func ToErrorResponse(err error) *ErrorResponse {
	gwErr, ok := AsGatewayError(err)
	if !ok {
		return &ErrorResponse{
			Error:   string(CodeServerError),
			Message: "an unexpected error occurred",
		}
	}

	resp := &ErrorResponse{
		Error:     string(gwErr.Code()),
		Message:   gwErr.Error(),
		Retryable: gwErr.Retryable(),
		Metadata:  gwErr.Metadata(),
	}
	if ra := gwErr.RetryAfter(); ra > 0 {
		resp.RetryAfter = int(ra.Round(time.Second).Seconds())
	}
	return resp
}

// HTTPStatusOf returns the status an error maps to, defaulting to 500.
func HTTPStatusOf(err error) int {
	if gwErr, ok := AsGatewayError(err); ok {
		return gwErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}
