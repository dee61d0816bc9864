package provider

import (
	"errors"
	"fmt"
)

// ErrEmptyResponse indicates the vendor returned no usable content.
var ErrEmptyResponse = errors.New("empty response from provider")

// ErrProviderNotFound indicates no provider is registered under a name.
var ErrProviderNotFound = errors.New("provider not found")

// RateLimitError indicates the vendor rejected the call with a 429.
// Retryable with backoff.
type RateLimitError struct {
	Provider string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited", e.Provider)
}

// AuthError indicates invalid or missing credentials. Never retried.
type AuthError struct {
	Provider string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed", e.Provider)
}

// Error is the generic provider failure. StatusCode is zero for
// transport-level failures.
type Error struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// classifyStatus maps an HTTP status to the typed error for a provider.
func classifyStatus(providerName string, status int, err error) error {
	switch {
	case status == 429:
		return &RateLimitError{Provider: providerName}
	case status == 401 || status == 403:
		return &AuthError{Provider: providerName}
	default:
		return &Error{Provider: providerName, StatusCode: status, Message: err.Error(), Err: err}
	}
}

// IsRetryable reports whether an error is transient: rate limits,
// server-side 5xx, and transport failures. Auth and other 4xx are not.
func IsRetryable(err error) bool {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return false
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.StatusCode == 0 || pe.StatusCode >= 500
	}
	return false
}
