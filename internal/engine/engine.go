// Package engine is the service facade over the risk core: it fetches raw
// payloads, normalizes them, runs the intelligence pipeline, folds findings
// into reputation evidence and correlation edges, scores the result, and
// wraps every answer in the API envelope. All read paths go through the
// cache/single-flight layer.
package engine

import (
	"context"
	"fmt"
	logger "log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quarklabs/chainrisk/internal/cache"
	"github.com/quarklabs/chainrisk/internal/chain"
	"github.com/quarklabs/chainrisk/internal/core/config"
	"github.com/quarklabs/chainrisk/internal/core/domain"
	"github.com/quarklabs/chainrisk/internal/infra/storage"
	"github.com/quarklabs/chainrisk/internal/ingest"
	"github.com/quarklabs/chainrisk/internal/intel"
	"github.com/quarklabs/chainrisk/internal/metrics"
	"github.com/quarklabs/chainrisk/internal/reputation"
	"github.com/quarklabs/chainrisk/internal/scoring"
	"github.com/quarklabs/chainrisk/internal/source"
	"github.com/quarklabs/chainrisk/internal/trace"
)

// Evidence weights for findings the engine itself records. Sanctions are
// authoritative; behavioral flags accumulate toward the suspicious threshold.
const (
	sanctionEvidenceWeight    = 1.0
	structuringEvidenceWeight = 0.3
	mixerDirectEvidenceWeight = 0.5
	mixerNearEvidenceWeight   = 0.25
)

// Deps carries the wired components the engine orchestrates.
type Deps struct {
	Config     *config.AppConfig
	Registry   *chain.Registry
	Sources    map[domain.ChainID]source.NodeSource
	Sanctions  source.SanctionsSource
	Cache      *cache.Cache
	Pipeline   *intel.Pipeline
	Simulator  *intel.Simulator
	Reputation *reputation.Store
	Scorer     *scoring.Engine
	Correlator *trace.Correlator
	Scores     storage.RiskScoreRepository
	Activity   storage.ActivityRepository
	Ingestor   *ingest.Ingestor
}

// Engine exposes the service operations. Stateless beyond its dependencies;
// safe for concurrent use.
type Engine struct {
	deps     Deps
	cfg      *config.AppConfig
	entities map[domain.ChainAddress]string
}

// New creates the engine. Entity labels from the trace config are parsed
// here so a malformed label fails startup, not a request.
func New(deps Deps) (*Engine, error) {
	entities, err := parseEntities(deps.Config.Trace.Entities)
	if err != nil {
		return nil, err
	}
	return &Engine{
		deps:     deps,
		cfg:      deps.Config,
		entities: entities,
	}, nil
}

// parseEntities parses "<label>=<chain>:<address>" entries.
func parseEntities(entries []string) (map[domain.ChainAddress]string, error) {
	entities := make(map[domain.ChainAddress]string, len(entries))
	for _, entry := range entries {
		label, node, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("malformed entity label %q, want \"<label>=<chain>:<address>\"", entry)
		}
		chainID, address, ok := strings.Cut(node, ":")
		if !ok || label == "" || chainID == "" || address == "" {
			return nil, fmt.Errorf("malformed entity label %q, want \"<label>=<chain>:<address>\"", entry)
		}
		entities[domain.ChainAddress{
			ChainID: domain.ChainID(chainID),
			Address: address,
		}] = label
	}
	return entities, nil
}

// TransactionRisk fetches, analyzes and scores a transaction. Served from
// the cache when a fresh assessment exists; concurrent requests for the same
// transaction share one computation.
func (e *Engine) TransactionRisk(ctx context.Context, chainID domain.ChainID, txHash string) *Envelope {
	txHash = strings.ToLower(strings.TrimSpace(txHash))
	if txHash == "" {
		return fail(domain.Malformed("tx_hash", "empty"))
	}

	key := cache.Key("risk", string(chainID), txHash)
	val, cached, err := e.deps.Cache.GetOrCompute(ctx, key, e.cfg.Cache.RiskTTL,
		func(ctx context.Context) (any, error) {
			return e.assess(ctx, chainID, txHash)
		})
	if err != nil {
		return fail(err)
	}
	return ok(val.(*domain.RiskScore), cached)
}

// assess is the uncached risk path: fetch raw -> normalize -> pipeline ->
// record findings -> snapshot reputations -> score -> persist.
func (e *Engine) assess(
	ctx context.Context,
	chainID domain.ChainID,
	txHash string,
) (*domain.RiskScore, error) {
	src, err := e.sourceFor(chainID)
	if err != nil {
		return nil, err
	}

	raw, err := src.FetchRawTransaction(ctx, txHash)
	if err != nil {
		return nil, err
	}
	tx, err := e.deps.Registry.NormalizeTransaction(chainID, raw)
	if err != nil {
		return nil, err
	}

	txIntel, err := e.deps.Pipeline.Analyze(ctx, tx)
	if err != nil {
		return nil, err
	}

	if err := e.recordFindings(ctx, tx, txIntel); err != nil {
		return nil, err
	}

	// Snapshots read after the appends above so a just-discovered sanction
	// reaches this very score.
	counterparties := tx.Counterparties()
	reputations := make([]*domain.ReputationRecord, 0, len(counterparties))
	for _, addr := range counterparties {
		rec, err := e.deps.Reputation.Get(ctx, chainID, addr)
		if err != nil {
			return nil, err
		}
		reputations = append(reputations, rec)
	}

	sender := firstInput(tx)
	var stats *domain.AddressStats
	if sender != "" {
		stats, err = e.deps.Activity.Stats(ctx, chainID, sender)
		if err != nil {
			return nil, err
		}
		if stats == nil && e.deps.Ingestor != nil {
			// No history yet; demand a backfill for next time.
			e.deps.Ingestor.Enqueue(chainID, sender)
		}
	}

	var contract *domain.NormalizedAddress
	if tx.ContractAddress != "" {
		contract, err = e.deps.Activity.GetAddress(ctx, chainID, tx.ContractAddress)
		if err != nil {
			return nil, err
		}
	}

	score, err := e.deps.Scorer.Score(scoring.Inputs{
		Tx:          tx,
		Reputations: reputations,
		Intel:       txIntel,
		SenderStats: stats,
		Contract:    contract,
		ComputedAt:  time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	if err := e.deps.Scores.Save(ctx, score); err != nil {
		return nil, fmt.Errorf("failed to persist score: %w", err)
	}

	metrics.AnalysesTotal.WithLabelValues(string(chainID)).Inc()
	logger.Info("transaction assessed",
		"chain_id", chainID,
		"tx_hash", txHash,
		"score", score.Score,
		"flags", score.Flags)
	return score, nil
}

// recordFindings folds pipeline output into the shared stores: sanctions
// evidence for listed counterparties, suspicion evidence for behavioral
// flags, bridge edges and entity sightings for the correlation graph.
// Evidence failures fail the assessment (a score computed against a known
// stale reputation would be wrong); correlation recording is best-effort.
func (e *Engine) recordFindings(
	ctx context.Context,
	tx *domain.NormalizedTransaction,
	txIntel *domain.TxIntel,
) error {
	for _, addr := range tx.Counterparties() {
		if _, err := e.syncSanctions(ctx, tx.ChainID, addr); err != nil {
			return err
		}
	}

	sender := firstInput(tx)
	if sender != "" {
		if txIntel.Patterns.Structuring {
			if err := e.appendFlagEvidence(ctx, tx, sender,
				"pattern:structuring", structuringEvidenceWeight,
				strings.Join(txIntel.Patterns.Evidence, "; ")); err != nil {
				return err
			}
		}
		if hops := txIntel.Patterns.MixerProximity; hops > 0 {
			weight := mixerNearEvidenceWeight
			if hops == 1 {
				weight = mixerDirectEvidenceWeight
			}
			if err := e.appendFlagEvidence(ctx, tx, sender,
				"pattern:mixer", weight,
				fmt.Sprintf("mixer within %d hops", hops)); err != nil {
				return err
			}
		}
	}

	e.recordCorrelation(ctx, tx, txIntel)
	return nil
}

// syncSanctions consults the sanctions source and mirrors a listing into the
// evidence log. Lookup failures degrade silently: the stored reputation still
// reflects every previously recorded listing. Reports whether new evidence
// was appended.
func (e *Engine) syncSanctions(
	ctx context.Context,
	chainID domain.ChainID,
	address string,
) (bool, error) {
	listing, err := e.deps.Sanctions.IsListed(ctx, chainID, address)
	if err != nil {
		logger.Warn("sanctions lookup failed",
			"chain_id", chainID, "address", address, "error", err)
		return false, nil
	}
	if !listing.Listed {
		return false, nil
	}

	effective := listing.EffectiveDate
	if effective.IsZero() {
		effective = time.Now().UTC()
	}
	ev := domain.Evidence{
		ID: deterministicEvidenceID("sanction", string(chainID), address,
			listing.ListName, effective.UTC().Format(time.RFC3339)),
		Kind:      domain.EvidenceSanction,
		Source:    "sanctions:" + listing.ListName,
		Weight:    sanctionEvidenceWeight,
		Detail:    "listed on " + listing.ListName,
		Timestamp: effective,
	}

	rec, err := e.deps.Reputation.Get(ctx, chainID, address)
	if err != nil {
		return false, err
	}
	for _, existing := range rec.Evidence {
		if existing.ID == ev.ID {
			return false, nil
		}
	}

	if _, err := e.deps.Reputation.Append(ctx, chainID, address, ev); err != nil {
		return false, err
	}
	e.deps.Cache.Invalidate(reputationKey(chainID, address))
	return true, nil
}

// appendFlagEvidence records one suspicion entry per (flag, transaction,
// address). The deterministic ID makes re-assessment after invalidation a
// no-op.
func (e *Engine) appendFlagEvidence(
	ctx context.Context,
	tx *domain.NormalizedTransaction,
	address, flagSource string,
	weight float64,
	detail string,
) error {
	ts := tx.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := e.deps.Reputation.Append(ctx, tx.ChainID, address, domain.Evidence{
		ID:        deterministicEvidenceID(flagSource, string(tx.ChainID), tx.TxHash, address),
		Kind:      domain.EvidenceSuspicion,
		Source:    flagSource,
		Weight:    weight,
		Detail:    detail,
		Timestamp: ts,
	})
	if err != nil {
		return err
	}
	e.deps.Cache.Invalidate(reputationKey(tx.ChainID, address))
	return nil
}

// recordCorrelation feeds the trace graph: a decoded bridge call becomes a
// directed bridge edge; participants touching a labeled entity become
// sightings, which the correlator links across chains.
func (e *Engine) recordCorrelation(
	ctx context.Context,
	tx *domain.NormalizedTransaction,
	txIntel *domain.TxIntel,
) {
	observedAt := tx.Timestamp
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	sender := firstInput(tx)
	if d := txIntel.Decoded; d != nil && d.Bridge && d.BridgeChain != "" && sender != "" {
		if dest := bridgeDestination(d); dest != "" {
			_, err := e.deps.Correlator.RecordBridgeTransfer(ctx,
				domain.ChainAddress{ChainID: tx.ChainID, Address: sender},
				domain.ChainAddress{ChainID: d.BridgeChain, Address: dest},
				tx.TxHash, observedAt)
			if err != nil {
				logger.Warn("failed to record bridge edge",
					"chain_id", tx.ChainID, "tx_hash", tx.TxHash, "error", err)
			}
		}
	}

	if len(e.entities) == 0 {
		return
	}
	var labels []string
	for _, addr := range tx.Counterparties() {
		if label, isEntity := e.entities[domain.ChainAddress{ChainID: tx.ChainID, Address: addr}]; isEntity {
			labels = append(labels, label)
		}
	}
	for _, label := range labels {
		for _, addr := range tx.Counterparties() {
			node := domain.ChainAddress{ChainID: tx.ChainID, Address: addr}
			if _, isEntity := e.entities[node]; isEntity {
				continue
			}
			_, err := e.deps.Correlator.RecordEntitySighting(ctx, &domain.EntitySighting{
				Entity:     label,
				Node:       node,
				TxHash:     tx.TxHash,
				ObservedAt: observedAt,
			})
			if err != nil {
				logger.Warn("failed to record entity sighting",
					"entity", label, "chain_id", tx.ChainID, "address", addr, "error", err)
			}
		}
	}
}

// bridgeDestination pulls the destination address from decoded bridge-call
// arguments when the call carries one.
func bridgeDestination(d *domain.DecodedCall) string {
	for _, arg := range d.Args {
		if arg.Name == "recipient" || arg.Name == "to" {
			return arg.Value
		}
	}
	return ""
}

// AddressReputation returns the evidence-folded reputation of an address,
// creating an unknown-class record on first sight. The sanctions source is
// consulted first so a fresh listing lands before the read.
func (e *Engine) AddressReputation(ctx context.Context, chainID domain.ChainID, address string) *Envelope {
	canonical, err := e.deps.Registry.CanonicalAddress(chainID, address)
	if err != nil {
		return fail(err)
	}

	if _, err := e.syncSanctions(ctx, chainID, canonical); err != nil {
		return fail(err)
	}

	val, cached, err := e.deps.Cache.GetOrCompute(ctx,
		reputationKey(chainID, canonical), e.cfg.Cache.ReputationTTL,
		func(ctx context.Context) (any, error) {
			rec, err := e.deps.Reputation.Get(ctx, chainID, canonical)
			if err != nil {
				return nil, err
			}
			stats, err := e.deps.Activity.Stats(ctx, chainID, canonical)
			if err != nil {
				return nil, err
			}
			if stats == nil && e.deps.Ingestor != nil {
				e.deps.Ingestor.Enqueue(chainID, canonical)
			}
			return rec, nil
		})
	if err != nil {
		return fail(err)
	}
	return ok(val.(*domain.ReputationRecord), cached)
}

// RecordEvidence appends one externally sourced evidence entry and returns
// the re-folded record.
func (e *Engine) RecordEvidence(
	ctx context.Context,
	chainID domain.ChainID,
	address string,
	ev domain.Evidence,
) *Envelope {
	canonical, err := e.deps.Registry.CanonicalAddress(chainID, address)
	if err != nil {
		return fail(err)
	}

	rec, err := e.deps.Reputation.Append(ctx, chainID, canonical, ev)
	if err != nil {
		return fail(err)
	}
	e.deps.Cache.Invalidate(reputationKey(chainID, canonical))
	return ok(rec, false)
}

// SimulationResponse pairs the decoded interaction with the predicted
// outcome of a pre-broadcast transaction.
type SimulationResponse struct {
	Decoded    *domain.DecodedCall      `json:"decoded,omitempty"`
	Simulation *domain.SimulationResult `json:"simulation"`
}

// Simulate predicts the effect of a raw, not-yet-broadcast transaction.
// State unavailability yields a degraded result, not a failure.
func (e *Engine) Simulate(ctx context.Context, chainID domain.ChainID, rawTx []byte) *Envelope {
	tx, err := e.deps.Registry.NormalizeTransaction(chainID, rawTx)
	if err != nil {
		return fail(err)
	}
	if tx.Status != domain.TxStatusPending {
		return fail(domain.Malformed("status", "only pending transactions can be simulated"))
	}

	result, err := e.deps.Simulator.Simulate(ctx, tx)
	if err != nil {
		return fail(err)
	}

	env := ok(&SimulationResponse{
		Decoded:    e.deps.Pipeline.Decode(tx),
		Simulation: result,
	}, false)
	if result.Degraded {
		env.ErrorKind = domain.ErrorKind(domain.ErrSimulationUnavailable)
	}
	return env
}

// Trace expands the cross-chain correlation graph around an address. Depth
// beyond the configured ceiling is clamped; hitting the cap marks the graph
// truncated rather than failing it.
func (e *Engine) Trace(ctx context.Context, chainID domain.ChainID, address string, maxDepth int) *Envelope {
	canonical, err := e.deps.Registry.CanonicalAddress(chainID, address)
	if err != nil {
		return fail(err)
	}

	if maxDepth <= 0 {
		maxDepth = e.cfg.Trace.DefaultDepth
	}
	if maxDepth > e.cfg.Trace.MaxDepth {
		maxDepth = e.cfg.Trace.MaxDepth
	}

	key := cache.Key("trace", string(chainID), canonical, strconv.Itoa(maxDepth))
	val, cached, err := e.deps.Cache.GetOrCompute(ctx, key, e.cfg.Cache.TraceTTL,
		func(ctx context.Context) (any, error) {
			return e.deps.Correlator.Trace(ctx, chainID, canonical, maxDepth)
		})
	if err != nil {
		return fail(err)
	}
	return ok(val.(*domain.TraceGraph), cached)
}

// InvalidateTransaction drops the cached assessment and every cached
// pipeline stage for a transaction. In-flight computations finish for their
// callers; the next request recomputes.
func (e *Engine) InvalidateTransaction(chainID domain.ChainID, txHash string) {
	txHash = strings.ToLower(strings.TrimSpace(txHash))
	e.deps.Cache.Invalidate(cache.Key("risk", string(chainID), txHash))
	e.deps.Pipeline.Invalidate(chainID, txHash)
}

func (e *Engine) sourceFor(chainID domain.ChainID) (source.NodeSource, error) {
	src, ok := e.deps.Sources[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedChain, chainID)
	}
	return src, nil
}

func reputationKey(chainID domain.ChainID, address string) string {
	return cache.Key("rep", string(chainID), address)
}

// deterministicEvidenceID derives a stable UUID so replaying the same
// finding folds into the same evidence row.
func deterministicEvidenceID(parts ...string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.Join(parts, "|"))).String()
}

func firstInput(tx *domain.NormalizedTransaction) string {
	for _, in := range tx.Inputs {
		if in.Address != "" {
			return in.Address
		}
	}
	return ""
}
