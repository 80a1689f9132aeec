package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidRequest              = errors.New("invalid request")
	ErrInvalidUsage                = errors.New("invalid usage values")
	ErrInvalidCost                 = errors.New("invalid cost amount")
	ErrProviderNotFound            = errors.New("provider not found")
	ErrExplicitProviderUnavailable = errors.New("requested provider unavailable")
	ErrCircuitBreakerOpen          = errors.New("circuit breaker open")
	ErrRoutingExhausted            = errors.New("all candidate providers exhausted")
)

// InvalidRequestError names the offending field so callers can see exactly
// what failed validation. It matches ErrInvalidRequest via errors.Is.
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

func (e *InvalidRequestError) Unwrap() error { return ErrInvalidRequest }

// InvalidUsageError reports a usage write that failed numeric validation.
// The write is rejected whole; counters are never partially updated.
type InvalidUsageError struct {
	Provider string
	Field    string
	Value    int64
}

func (e *InvalidUsageError) Error() string {
	return fmt.Sprintf("invalid usage for provider %q: %s=%d", e.Provider, e.Field, e.Value)
}

func (e *InvalidUsageError) Unwrap() error { return ErrInvalidUsage }

// InvalidCostError reports a cost amount rejected at insertion time.
type InvalidCostError struct {
	Provider string
	Amount   float64
}

func (e *InvalidCostError) Error() string {
	return fmt.Sprintf("invalid cost for provider %q: %v", e.Provider, e.Amount)
}

func (e *InvalidCostError) Unwrap() error { return ErrInvalidCost }

// ExplicitProviderError is returned when the caller demanded a provider that
// is unknown or ineligible. The router does not silently fall back.
type ExplicitProviderError struct {
	Provider string
	Reason   string
}

func (e *ExplicitProviderError) Error() string {
	return fmt.Sprintf("provider %q unavailable: %s", e.Provider, e.Reason)
}

func (e *ExplicitProviderError) Unwrap() error { return ErrExplicitProviderUnavailable }

// RoutingExhaustedError carries the ordered per-candidate trail so callers can
// distinguish "all unhealthy" from "all over quota" from "all over budget".
type RoutingExhaustedError struct {
	Attempts []Attempt
}

func (e *RoutingExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return "routing exhausted: no eligible providers"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s=%s", a.Provider, a.Outcome))
	}
	return "routing exhausted: " + strings.Join(parts, ", ")
}

func (e *RoutingExhaustedError) Unwrap() error { return ErrRoutingExhausted }
