package engine

import (
	"encoding/json"
	"io"
	logger "log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/quarklabs/chainrisk/internal/core/domain"
)

const maxBodyBytes = 1 << 20

// Mux is the subset of http.ServeMux the API mounts on. The health server
// exposes the same surface, so the API shares its listener.
type Mux interface {
	Handle(pattern string, handler http.Handler)
}

// API is the thin JSON layer over the engine. Handlers parse the request,
// call one engine operation, and write the envelope; no business logic lives
// here.
type API struct {
	engine *Engine
}

// NewAPI creates the HTTP layer.
func NewAPI(engine *Engine) *API {
	return &API{engine: engine}
}

// Register mounts the /v1 routes.
func (a *API) Register(mux Mux) {
	mux.Handle("GET /v1/risk/{chain}/tx/{hash}", http.HandlerFunc(a.handleTransactionRisk))
	mux.Handle("DELETE /v1/risk/{chain}/tx/{hash}", http.HandlerFunc(a.handleInvalidate))
	mux.Handle("GET /v1/reputation/{chain}/{address}", http.HandlerFunc(a.handleReputation))
	mux.Handle("POST /v1/reputation/{chain}/{address}/evidence", http.HandlerFunc(a.handleEvidence))
	mux.Handle("POST /v1/simulate/{chain}", http.HandlerFunc(a.handleSimulate))
	mux.Handle("GET /v1/trace/{chain}/{address}", http.HandlerFunc(a.handleTrace))
}

func (a *API) handleTransactionRisk(w http.ResponseWriter, r *http.Request) {
	env := a.engine.TransactionRisk(r.Context(),
		domain.ChainID(r.PathValue("chain")), r.PathValue("hash"))
	writeEnvelope(w, env)
}

func (a *API) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	a.engine.InvalidateTransaction(
		domain.ChainID(r.PathValue("chain")), r.PathValue("hash"))
	writeEnvelope(w, ok(nil, false))
}

func (a *API) handleReputation(w http.ResponseWriter, r *http.Request) {
	env := a.engine.AddressReputation(r.Context(),
		domain.ChainID(r.PathValue("chain")), r.PathValue("address"))
	writeEnvelope(w, env)
}

// evidenceRequest is the POST body for recording external evidence. ID and
// Timestamp are optional; the store fills them in.
type evidenceRequest struct {
	ID        string    `json:"id,omitempty"`
	Kind      string    `json:"kind"`
	Source    string    `json:"source"`
	Weight    float64   `json:"weight"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

func (a *API) handleEvidence(w http.ResponseWriter, r *http.Request) {
	var req evidenceRequest
	if err := decodeBody(r, &req); err != nil {
		writeEnvelope(w, fail(err))
		return
	}

	kind := domain.EvidenceKind(req.Kind)
	switch kind {
	case domain.EvidenceSanction, domain.EvidenceSanctionRemoval,
		domain.EvidenceSuspicion, domain.EvidenceTrust:
	default:
		writeEnvelope(w, fail(domain.Malformed("kind", "unknown evidence kind "+strconv.Quote(req.Kind))))
		return
	}
	if req.Source == "" {
		writeEnvelope(w, fail(domain.Malformed("source", "empty")))
		return
	}
	if req.Weight < 0 || req.Weight > 1 {
		writeEnvelope(w, fail(domain.Malformed("weight", "must be between 0 and 1")))
		return
	}

	env := a.engine.RecordEvidence(r.Context(),
		domain.ChainID(r.PathValue("chain")), r.PathValue("address"),
		domain.Evidence{
			ID:        req.ID,
			Kind:      kind,
			Source:    req.Source,
			Weight:    req.Weight,
			Detail:    req.Detail,
			Timestamp: req.Timestamp,
		})
	writeEnvelope(w, env)
}

func (a *API) handleSimulate(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeEnvelope(w, fail(domain.Malformed("body", "unreadable or too large")))
		return
	}
	env := a.engine.Simulate(r.Context(), domain.ChainID(r.PathValue("chain")), raw)
	writeEnvelope(w, env)
}

func (a *API) handleTrace(w http.ResponseWriter, r *http.Request) {
	depth := 0
	if raw := r.URL.Query().Get("depth"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeEnvelope(w, fail(domain.Malformed("depth", "not an integer")))
			return
		}
		depth = parsed
	}
	env := a.engine.Trace(r.Context(),
		domain.ChainID(r.PathValue("chain")), r.PathValue("address"), depth)
	writeEnvelope(w, env)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.Malformed("body", "invalid JSON: "+err.Error())
	}
	return nil
}

func writeEnvelope(w http.ResponseWriter, env *Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(env))
	if err := json.NewEncoder(w).Encode(env); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

// statusFor maps an envelope to its HTTP status. Degraded-but-successful
// results stay 200; the envelope carries the kind.
func statusFor(env *Envelope) int {
	if env.Success {
		return http.StatusOK
	}
	switch env.ErrorKind {
	case "not_found":
		return http.StatusNotFound
	case "unsupported_chain", "malformed_payload":
		return http.StatusBadRequest
	case "timeout":
		return http.StatusGatewayTimeout
	case "simulation_unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
