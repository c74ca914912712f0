package services

import "fmt"

// Classified service errors. Handlers switch on these to pick a status code
// and a stable machine-readable error code.

type ValidationError struct{ Message string }

func (e *ValidationError) Error() string { return e.Message }

type NotFoundError struct{ Message string }

func (e *NotFoundError) Error() string { return e.Message }

// RateLimitError means the upstream gateway rejected the call with 429.
type RateLimitError struct{ Message string }

func (e *RateLimitError) Error() string { return e.Message }

// InvalidModelError means the gateway does not know the requested model.
type InvalidModelError struct{ Model string }

func (e *InvalidModelError) Error() string {
	return fmt.Sprintf("model %q is not available", e.Model)
}

// UnavailableError covers timeouts and connection failures toward the
// upstream gateway, before or without a usable response.
type UnavailableError struct{ Message string }

func (e *UnavailableError) Error() string { return e.Message }

// UpstreamError is any other error response from the gateway, including
// malformed payloads.
type UpstreamError struct {
	Message    string
	StatusCode int
}

func (e *UpstreamError) Error() string { return e.Message }

// ConfigError means the relay itself is misconfigured (e.g. missing API key).
type ConfigError struct{ Message string }

func (e *ConfigError) Error() string { return e.Message }

// SendError wraps a classified error from a send that already touched a
// session, carrying the session id so the caller can surface it. The user
// turn appended before the upstream call stays persisted.
type SendError struct {
	SessionID string
	Err       error
}

func (e *SendError) Error() string { return e.Err.Error() }
func (e *SendError) Unwrap() error { return e.Err }
