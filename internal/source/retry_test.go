package source

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/quarklabs/chainrisk/internal/core/domain"
)

func TestPolicy_Do_RetriesTransientErrors(t *testing.T) {
	p := Policy{
		MaxAttempts:     3,
		InitialDelay:    time.Millisecond,
		MaxDelay:        10 * time.Millisecond,
		BackoffMultiple: 2.0,
	}

	calls := 0
	err := p.Do(context.Background(), "fetch", func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
}

func TestPolicy_Do_FatalStopsImmediately(t *testing.T) {
	p := Policy{
		MaxAttempts:     5,
		InitialDelay:    time.Millisecond,
		MaxDelay:        10 * time.Millisecond,
		BackoffMultiple: 2.0,
	}

	calls := 0
	err := p.Do(context.Background(), "fetch", func() error {
		calls++
		return fmt.Errorf("lookup: %w", domain.ErrNotFound)
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Expected not found, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Fatal error should not retry, got %d attempts", calls)
	}
}

func TestPolicy_Do_ExhaustedAttempts(t *testing.T) {
	p := Policy{
		MaxAttempts:     2,
		InitialDelay:    time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		BackoffMultiple: 2.0,
	}

	calls := 0
	boom := errors.New("http 503: unavailable")
	err := p.Do(context.Background(), "fetch", func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected wrapped last error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected 2 attempts, got %d", calls)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorAction
	}{
		{"not found is fatal", fmt.Errorf("x: %w", domain.ErrNotFound), ActionFatal},
		{"malformed is fatal", domain.Malformed("txid", "missing"), ActionFatal},
		{"invalid params is fatal", errors.New("rpc error -32602: invalid params"), ActionFatal},
		{"rate limit fails over", errors.New("rate limited (429), retry after: 2"), ActionFailover},
		{"quota fails over", errors.New("daily quota exceeded"), ActionFailover},
		{"network retries", errors.New("connection refused"), ActionRetry},
		{"server error retries", errors.New("http 502: bad gateway"), ActionRetry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestCalculateBackoff_Capped(t *testing.T) {
	p := Policy{
		MaxAttempts:     10,
		InitialDelay:    time.Second,
		MaxDelay:        4 * time.Second,
		BackoffMultiple: 2.0,
	}

	if d := calculateBackoff(0, p); d != time.Second {
		t.Errorf("Expected 1s at attempt 0, got %s", d)
	}
	if d := calculateBackoff(1, p); d != 2*time.Second {
		t.Errorf("Expected 2s at attempt 1, got %s", d)
	}
	if d := calculateBackoff(5, p); d != 4*time.Second {
		t.Errorf("Expected cap at 4s, got %s", d)
	}
}
