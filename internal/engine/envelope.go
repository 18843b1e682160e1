package engine

import (
	"errors"
	"time"

	"github.com/quarklabs/chainrisk/internal/core/domain"
)

// Envelope is the uniform response wrapper for every engine operation.
// Cached reports that the data was served from the cache layer without fresh
// computation. ErrorKind is a stable machine-readable kind; Error is the
// human-readable message. Internal detail never leaks into either.
type Envelope struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Cached    bool      `json:"cached"`
	Timestamp time.Time `json:"timestamp"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func ok(data any, cached bool) *Envelope {
	return &Envelope{
		Success:   true,
		Data:      data,
		Cached:    cached,
		Timestamp: time.Now().UTC(),
	}
}

func fail(err error) *Envelope {
	return &Envelope{
		Timestamp: time.Now().UTC(),
		ErrorKind: domain.ErrorKind(err),
		Error:     publicMessage(err),
	}
}

// publicMessage renders an error for API consumers. Known kinds surface
// their own message; anything else collapses to a generic one so wrapped
// internals (SQL text, endpoint URLs) stay out of responses.
func publicMessage(err error) string {
	if domain.ErrorKind(err) != "internal" {
		var malformed *domain.MalformedPayloadError
		if errors.As(err, &malformed) {
			return malformed.Error()
		}
		return err.Error()
	}
	return "internal error"
}
