// Package domain provides the canonical types and error taxonomy for the
// orchestration engine.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is the stable category of an engine error. Every terminal
// failure reaching a caller carries one so the UI can render a specific
// message instead of a raw error string.
type ErrorKind string

const (
	// KindBudgetExhausted means admission was denied by the budget ledger.
	// No provider was contacted. Never retried: a policy decision, not a
	// transient fault.
	KindBudgetExhausted ErrorKind = "budget_exhausted"

	// KindAllProvidersUnavailable means every candidate failed or was
	// offline. Surfaced as a transient retry-later condition.
	KindAllProvidersUnavailable ErrorKind = "all_providers_unavailable"

	// KindProviderError is a single-attempt upstream failure. Recovered
	// locally by failover; only surfaced if it exhausts all candidates.
	KindProviderError ErrorKind = "provider_error"

	// KindSafetyTripped marks a decision blocked by the safety breaker.
	// A deliberate, successful block rather than an engine failure.
	KindSafetyTripped ErrorKind = "safety_tripped"

	// KindCacheCorruption means a cached entry failed integrity checks.
	// Treated as a miss, never served.
	KindCacheCorruption ErrorKind = "cache_corruption"

	// KindInvalidRequest indicates a malformed inbound request.
	KindInvalidRequest ErrorKind = "invalid_request"

	// KindNotFound indicates a referenced resource does not exist.
	KindNotFound ErrorKind = "not_found"

	// KindInternal indicates an unexpected engine fault.
	KindInternal ErrorKind = "internal"
)

// EngineError is the canonical typed error returned across component
// boundaries and translated to HTTP at the edge.
type EngineError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`

	// Scope carries the budget scope for budget errors.
	Scope string `json:"scope,omitempty"`

	// Provider carries the provider id for provider errors.
	Provider string `json:"provider,omitempty"`

	// Err is the wrapped cause, if any.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *EngineError) Unwrap() error { return e.Err }

// HTTPStatusCode maps the error kind to an HTTP status.
func (e *EngineError) HTTPStatusCode() int {
	switch e.Kind {
	case KindBudgetExhausted:
		return http.StatusPaymentRequired
	case KindAllProvidersUnavailable:
		return http.StatusServiceUnavailable
	case KindProviderError:
		return http.StatusBadGateway
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// KindOf extracts the kind from any error, returning KindInternal for
// errors that did not originate in the engine.
func KindOf(err error) ErrorKind {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindInternal
}

// ErrBudgetExhausted creates a budget admission denial for a scope.
func ErrBudgetExhausted(scope string, message string) *EngineError {
	return &EngineError{Kind: KindBudgetExhausted, Scope: scope, Message: message}
}

// ErrAllProvidersUnavailable creates the terminal failover error.
func ErrAllProvidersUnavailable(message string, cause error) *EngineError {
	return &EngineError{Kind: KindAllProvidersUnavailable, Message: message, Err: cause}
}

// ErrProvider wraps a single upstream attempt failure.
func ErrProvider(provider string, cause error) *EngineError {
	return &EngineError{Kind: KindProviderError, Provider: provider, Message: "provider call failed", Err: cause}
}

// ErrCacheCorruption marks an unreadable cache entry.
func ErrCacheCorruption(message string) *EngineError {
	return &EngineError{Kind: KindCacheCorruption, Message: message}
}

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(message string) *EngineError {
	return &EngineError{Kind: KindInvalidRequest, Message: message}
}

// ErrNotFound creates a not found error.
func ErrNotFound(message string) *EngineError {
	return &EngineError{Kind: KindNotFound, Message: message}
}

// ErrInternal wraps an unexpected engine fault.
func ErrInternal(message string, cause error) *EngineError {
	return &EngineError{Kind: KindInternal, Message: message, Err: cause}
}
