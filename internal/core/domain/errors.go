package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedChain is returned when no adapter is registered for a chain.
	ErrUnsupportedChain = errors.New("unsupported chain")
	// ErrMalformedPayload is returned when a raw payload fails structural validation.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrNotFound is returned when a transaction or resource doesn't exist.
	ErrNotFound = errors.New("not found")
	// ErrSimulationUnavailable marks a degraded simulation after retries were exhausted.
	ErrSimulationUnavailable = errors.New("simulation unavailable")
	// ErrTimeout is returned when a caller's deadline or cancellation fired.
	ErrTimeout = errors.New("timeout")
)

// MalformedPayloadError identifies the offending field of a rejected payload.
type MalformedPayloadError struct {
	Field  string
	Reason string
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed payload: field %q: %s", e.Field, e.Reason)
}

func (e *MalformedPayloadError) Unwrap() error {
	return ErrMalformedPayload
}

// Malformed builds a MalformedPayloadError for the given field.
func Malformed(field, reason string) error {
	return &MalformedPayloadError{Field: field, Reason: reason}
}

// ErrorKind maps an error to its stable machine-readable kind for API
// responses and metrics labels.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnsupportedChain):
		return "unsupported_chain"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrSimulationUnavailable):
		return "simulation_unavailable"
	case errors.Is(err, ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "internal"
	}
}
