package client

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrUpstream is returned when the upstream Git server answers with a
// non-2xx status or reports a fatal error over the sideband.
// This error should only be used with errors.Is() for comparison, not for type assertions.
var ErrUpstream = errors.New("upstream error")

// ErrUnauthorized is returned when authentication fails (HTTP 401 or 403).
var ErrUnauthorized = errors.New("unauthorized")

// UpstreamError provides structured information about an upstream failure.
type UpstreamError struct {
	// StatusCode is the HTTP status code, or 0 when the failure was
	// reported in-band (sideband channel 3).
	StatusCode int
	// Operation is the HTTP method that failed (e.g. "GET", "POST").
	Operation string
	// BodyPrefix is the start of the response body or sideband message,
	// for diagnostics.
	BodyPrefix string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("upstream fatal: %s", e.BodyPrefix)
	}
	if e.BodyPrefix != "" {
		return fmt.Sprintf("upstream error (operation %s, status code %d): %s", e.Operation, e.StatusCode, e.BodyPrefix)
	}
	return fmt.Sprintf("upstream error (operation %s, status code %d)", e.Operation, e.StatusCode)
}

// Is enables errors.Is() compatibility with ErrUpstream.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

// IsRetryable reports whether the failure class is worth retrying:
// 5xx responses and 429, never any other 4xx client error.
func (e *UpstreamError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// NewUpstreamError creates a new UpstreamError with the specified
// operation, status code and body prefix.
func NewUpstreamError(operation string, statusCode int, bodyPrefix string) *UpstreamError {
	return &UpstreamError{Operation: operation, StatusCode: statusCode, BodyPrefix: bodyPrefix}
}

// UnauthorizedError provides structured information about an
// authentication failure.
type UnauthorizedError struct {
	// StatusCode is the HTTP status code (401 or 403).
	StatusCode int
	// Operation is the HTTP method that failed.
	Operation string
	// Endpoint is the Git protocol endpoint (e.g. "git-upload-pack").
	Endpoint string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("unauthorized (operation %s, endpoint %s, status code %d)", e.Operation, e.Endpoint, e.StatusCode)
}

// Is enables errors.Is() compatibility with ErrUnauthorized.
func (e *UnauthorizedError) Is(target error) bool {
	return target == ErrUnauthorized
}

// NewUnauthorizedError creates a new UnauthorizedError for the given
// operation and endpoint.
func NewUnauthorizedError(operation, endpoint string, statusCode int) *UnauthorizedError {
	return &UnauthorizedError{Operation: operation, Endpoint: endpoint, StatusCode: statusCode}
}

// bodyPrefixLimit bounds how much of an error body is retained.
const bodyPrefixLimit = 512

// checkStatus classifies a non-2xx response. The caller is responsible
// for closing the response body.
func checkStatus(res *http.Response, endpoint string) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}

	operation := ""
	if res.Request != nil {
		operation = res.Request.Method
	}

	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return NewUnauthorizedError(operation, endpoint, res.StatusCode)
	}

	prefix, _ := io.ReadAll(io.LimitReader(res.Body, bodyPrefixLimit))
	return NewUpstreamError(operation, res.StatusCode, string(prefix))
}
