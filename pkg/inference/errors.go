package inference

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrNoAPIKey is returned when API key is required but missing.
	ErrNoAPIKey = errors.New("inference: API key required")

	// ErrNoModel is returned when model is required but missing.
	ErrNoModel = errors.New("inference: model required")

	// ErrEmptyResponse is returned when the model produced no usable text.
	ErrEmptyResponse = errors.New("inference: empty response")
)

// APIError represents an error response from an inference API.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	Provider   string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("inference [%s]: API error %d (%s): %s",
			e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("inference [%s]: API error %d: %s",
		e.Provider, e.StatusCode, e.Message)
}

// IsRateLimited returns true if this is a rate limit error (HTTP 429).
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsUnauthorized returns true if this is an authentication error (HTTP 401).
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == 401
}

// IsServerError returns true if this is a server-side error (HTTP 5xx).
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// ProviderError wraps an error with provider context.
type ProviderError struct {
	Provider string
	Err      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("inference [%s]: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with provider context.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}

// FailureReason classifies why a completion produced no reply.
type FailureReason string

const (
	ReasonTimeout   FailureReason = "timeout"
	ReasonTransport FailureReason = "transport"
	ReasonEmpty     FailureReason = "empty"
)

// CompletionError is returned by Completer.Complete.
type CompletionError struct {
	Reason FailureReason
	Err    error
}

// Error implements the error interface.
func (e *CompletionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("completion failed: %s", e.Reason)
	}
	return fmt.Sprintf("completion failed (%s): %v", e.Reason, e.Err)
}

// Unwrap returns the underlying error.
func (e *CompletionError) Unwrap() error {
	return e.Err
}

// Classify maps a provider error onto a FailureReason.
func Classify(err error) FailureReason {
	if errors.Is(err, ErrEmptyResponse) {
		return ReasonEmpty
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	return ReasonTransport
}
