package carrier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Error codes reported by carrier integrations.
const (
	CodeAPIError         = "API_ERROR"
	CodeTimeout          = "TIMEOUT"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeRejected         = "REJECTED"
	CodeNotFound         = "NOT_FOUND"
	CodeMalformedPayload = "MALFORMED_PAYLOAD"
	CodeInvalidOrder     = "INVALID_ORDER"
	CodeNotEnabled       = "NOT_ENABLED"
)

// Error represents an error from a courier integration.
type Error struct {
	Carrier    string
	Code       string
	Message    string
	StatusCode int
	Retryable  bool
	Cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error (%s): %s: %v", e.Carrier, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error (%s): %s", e.Carrier, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error with the same code, or the taxonomy sentinel
// the code belongs to.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	switch target {
	case ErrMalformedPayload:
		return e.Code == CodeMalformedPayload
	case ErrValidationFailure:
		return e.Code == CodeInvalidOrder
	case ErrTimeout:
		return e.Code == CodeTimeout
	case ErrCarrierAPIFailure:
		return e.Code != CodeMalformedPayload && e.Code != CodeInvalidOrder
	}
	return false
}

// NewError creates a new carrier error.
func NewError(carrier, code, message string) *Error {
	return &Error{
		Carrier: carrier,
		Code:    code,
		Message: message,
	}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithStatusCode adds an HTTP status code to the error.
func (e *Error) WithStatusCode(code int) *Error {
	e.StatusCode = code
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// Sentinel errors forming the core error taxonomy.
var (
	// ErrAuthenticationFailed indicates an inbound webhook failed authentication.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrUnknownCarrier indicates the requested carrier is not registered.
	ErrUnknownCarrier = errors.New("unknown carrier")

	// ErrMalformedPayload indicates a webhook payload could not be interpreted.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrCarrierAPIFailure indicates a network, timeout or vendor error.
	ErrCarrierAPIFailure = errors.New("carrier API failure")

	// ErrTimeout indicates a carrier call exceeded its deadline.
	ErrTimeout = errors.New("carrier timeout")

	// ErrValidationFailure indicates the order is missing required fields.
	ErrValidationFailure = errors.New("validation failure")

	// ErrConcurrencyConflict indicates per-order lock contention.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// FromContext converts a context error into a carrier timeout error. Other
// errors are returned unchanged.
func FromContext(carrier string, err error) error {
	if isTimeout(err) {
		return NewError(carrier, CodeTimeout, "carrier request timed out").WithCause(err).WithRetryable(true)
	}
	return err
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// TransportError classifies an error returned by an HTTP round trip.
// Errors that already are *Error pass through.
func TransportError(carrier string, err error) error {
	var cerr *Error
	if errors.As(err, &cerr) {
		return err
	}
	if isTimeout(err) {
		return FromContext(carrier, err)
	}
	return NewError(carrier, CodeAPIError, "carrier request failed").WithCause(err).WithRetryable(true)
}

// HTTPError builds an error for a non-success vendor response, keeping the
// vendor message verbatim.
func HTTPError(carrier string, statusCode int, message string) *Error {
	code := CodeAPIError
	retryable := false
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		code = CodeUnauthorized
	case statusCode == http.StatusNotFound:
		code = CodeNotFound
	case statusCode == http.StatusTooManyRequests:
		code = CodeRateLimited
		retryable = true
	case statusCode == http.StatusBadRequest || statusCode == http.StatusUnprocessableEntity:
		code = CodeRejected
	case statusCode >= 500:
		retryable = true
	}
	return NewError(carrier, code, message).WithStatusCode(statusCode).WithRetryable(retryable)
}

// Malformed builds a MALFORMED_PAYLOAD error.
func Malformed(carrier, message string, cause error) *Error {
	return NewError(carrier, CodeMalformedPayload, message).WithCause(cause)
}

// Message returns the carrier-facing message of err, or fallback when err
// carries none.
func Message(err error, fallback string) string {
	var cerr *Error
	if errors.As(err, &cerr) && cerr.Message != "" {
		return cerr.Message
	}
	if err != nil && fallback == "" {
		return err.Error()
	}
	return fallback
}

// IsRetryable returns true if the error is retryable.
func IsRetryable(err error) bool {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Retryable
	}
	return errors.Is(err, ErrTimeout)
}
