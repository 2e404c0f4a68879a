package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType classifies a failure by how the crawler must react to it.
type ErrorType string

const (
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypePrivate       ErrorType = "private"
	ErrorTypeAuthExpired   ErrorType = "auth_expired"
	ErrorTypeRateLimit     ErrorType = "rate_limit"
	ErrorTypeTransient     ErrorType = "transient"
	ErrorTypeConfiguration ErrorType = "configuration"
)

var (
	// ErrRetriesExhausted is wrapped by the retry executor once every attempt has failed.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrNoWorkItems is returned when a run resolves to an empty work list.
	ErrNoWorkItems = Configuration("no work items to process", nil)
)

// Error represents a classified failure with an optional status code and cause.
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same type, so errors.Is(err, &Error{Type: ErrorTypeNotFound}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type && (t.Message == "" || t.Message == e.Message)
}

func newError(t ErrorType, msg string, code int, cause error) *Error {
	return &Error{Type: t, Message: msg, Code: code, Err: cause}
}

func NotFound(msg string) *Error { return newError(ErrorTypeNotFound, msg, http.StatusNotFound, nil) }
func Private(msg string) *Error  { return newError(ErrorTypePrivate, msg, http.StatusForbidden, nil) }

func AuthExpired(msg string) *Error {
	return newError(ErrorTypeAuthExpired, msg, http.StatusUnauthorized, nil)
}

func RateLimited(msg string) *Error {
	return newError(ErrorTypeRateLimit, msg, http.StatusTooManyRequests, nil)
}

// Transient wraps a recoverable failure such as a dropped connection or a malformed body.
func Transient(msg string, cause error) *Error {
	return newError(ErrorTypeTransient, msg, 0, cause)
}

// Configuration wraps a failure that must abort the run with a non-zero exit.
func Configuration(msg string, cause error) *Error {
	return newError(ErrorTypeConfiguration, msg, 0, cause)
}

// FromStatusCode maps an HTTP status of the remote API onto the taxonomy.
// It returns nil for 2xx and 3xx.
func FromStatusCode(code int, msg string) *Error {
	switch {
	case code < 400:
		return nil
	case code == http.StatusUnauthorized:
		return AuthExpired(msg)
	case code == http.StatusForbidden:
		return Private(msg)
	case code == http.StatusNotFound, code == http.StatusGone:
		e := NotFound(msg)
		e.Code = code
		return e
	case code == http.StatusTooManyRequests:
		return RateLimited(msg)
	default:
		e := Transient(msg, nil)
		e.Code = code
		return e
	}
}

// TypeOf returns the classification of err. Unclassified errors are treated
// as transient, since a network or decode failure is the common case.
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeTransient
}

// IsTerminal reports whether retrying err can never succeed.
func IsTerminal(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeNotFound, ErrorTypePrivate, ErrorTypeConfiguration:
		return true
	default:
		return false
	}
}

// IsRecoverable reports whether err is worth another attempt.
func IsRecoverable(err error) bool {
	return err != nil && !IsTerminal(err)
}

func IsType(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

func IsRateLimited(err error) bool { return IsType(err, ErrorTypeRateLimit) }
func IsNotFound(err error) bool    { return IsType(err, ErrorTypeNotFound) }
func IsPrivate(err error) bool     { return IsType(err, ErrorTypePrivate) }

func IsAuthExpired(err error) bool   { return IsType(err, ErrorTypeAuthExpired) }
func IsConfiguration(err error) bool { return IsType(err, ErrorTypeConfiguration) }

func IsRetriesExhausted(err error) bool {
	return errors.Is(err, ErrRetriesExhausted)
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0, http.StatusUnauthorized, http.StatusTooManyRequests:
		return true
	case http.StatusForbidden, http.StatusNotFound, http.StatusGone:
		return false
	default:
		return statusCode >= 500
	}
}
