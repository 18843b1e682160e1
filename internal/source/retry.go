package source

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	logger "log/slog"

	"github.com/quarklabs/chainrisk/internal/core/domain"
)

// Policy defines retry behavior for node source calls.
type Policy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

// DefaultPolicy provides sensible defaults.
var DefaultPolicy = Policy{
	MaxAttempts:     3,
	InitialDelay:    500 * time.Millisecond,
	MaxDelay:        30 * time.Second,
	BackoffMultiple: 2.0,
}

// ErrorAction determines how to handle an error.
type ErrorAction int

const (
	ActionRetry ErrorAction = iota
	ActionFailover
	ActionFatal
)

// ClassifyError determines the action for a given error. Domain errors that
// no retry can fix are fatal; provider throttling should fail over; the rest
// (network, 5xx) is retryable.
func ClassifyError(err error) ErrorAction {
	if err == nil {
		return ActionRetry // Should not happen
	}

	if errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrMalformedPayload) ||
		errors.Is(err, domain.ErrUnsupportedChain) ||
		errors.Is(err, context.Canceled) {
		return ActionFatal
	}

	s := err.Error()
	sLower := strings.ToLower(s)

	// Fatal (request issues)
	// -32700: Parse error, -32600: Invalid Request, -32601: Method not found, -32602: Invalid params
	if strings.Contains(s, "-32700") || strings.Contains(s, "-32600") ||
		strings.Contains(s, "-32601") || strings.Contains(s, "-32602") {
		return ActionFatal
	}

	// Failover (provider specific issues)
	if strings.Contains(s, "429") || strings.Contains(sLower, "too many requests") ||
		strings.Contains(s, "403") || strings.Contains(sLower, "forbidden") ||
		strings.Contains(sLower, "quota") || strings.Contains(sLower, "rate limit") ||
		strings.Contains(sLower, "unauthorized") {
		return ActionFailover
	}

	return ActionRetry
}

// Do executes fn with exponential backoff. Fatal and failover errors stop
// the loop immediately.
func (p Policy) Do(ctx context.Context, op string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		action := ClassifyError(err)
		if action == ActionFatal || action == ActionFailover {
			return err
		}

		if attempt == p.MaxAttempts-1 {
			break
		}

		delay := calculateBackoff(attempt, p)
		logger.Debug("retrying after error", "op", op, "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", domain.ErrTimeout, ctx.Err())
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, p.MaxAttempts, lastErr)
}

func calculateBackoff(attempt int, p Policy) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.BackoffMultiple, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}
