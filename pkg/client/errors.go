package client

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Common errors returned by the client.
var (
	// ErrTimeout matches any TransportError caused by the per-call timeout.
	ErrTimeout = errors.New("request timed out")

	// ErrRateLimited is returned when the rate budget tracker blocks a call.
	ErrRateLimited = errors.New("request blocked: rate budget exhausted")
)

// ErrorKind classifies a transport failure.
type ErrorKind string

const (
	// KindTimeout is a call that exceeded the per-call timeout.
	KindTimeout ErrorKind = "timeout"

	// KindNetwork covers DNS, connect, TLS and read failures.
	KindNetwork ErrorKind = "network"

	// KindStatus is a non-2xx HTTP response.
	KindStatus ErrorKind = "status"

	// KindEncode is a request body that could not be JSON encoded.
	KindEncode ErrorKind = "encode"

	// KindRateLimited is a call refused locally by the rate budget tracker.
	KindRateLimited ErrorKind = "rate_limited"
)

// TransportError is the only error type returned by Client.Request.
type TransportError struct {
	Kind       ErrorKind
	Method     string
	URL        string
	StatusCode int
	Cause      string
	Err        error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: %s error (status %d): %s",
			e.Method, e.URL, e.Kind, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("%s %s: %s error: %s", e.Method, e.URL, e.Kind, e.Cause)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrTimeout) and errors.Is(err, ErrRateLimited) match by kind.
func (e *TransportError) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	}
	return false
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// classifyError maps an error from http.Client.Do to a kind.
func classifyError(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}
