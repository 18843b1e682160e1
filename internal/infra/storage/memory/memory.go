package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quarklabs/chainrisk/internal/core/domain"
	"github.com/quarklabs/chainrisk/internal/infra/storage"
)

var (
	_ storage.ReputationRepository = (*ReputationRepo)(nil)
	_ storage.RiskScoreRepository  = (*RiskRepo)(nil)
	_ storage.TraceRepository      = (*TraceRepo)(nil)
	_ storage.ActivityRepository   = (*ActivityRepo)(nil)
)

// MemoryStorage backs all repositories with in-process maps. Used in tests
// and when no database URL is configured.
type MemoryStorage struct {
	records   map[string]*domain.ReputationRecord
	evidence  map[string][]domain.Evidence
	scores    map[string][]*domain.RiskScore
	edges     map[string]*domain.TraceEdge
	edgeOrder []string
	sightings []*domain.EntitySighting
	seen      map[string]struct{}
	addresses map[string]*domain.NormalizedAddress
	transfers map[string][]*domain.TransferRecord
	mu        sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records:   make(map[string]*domain.ReputationRecord),
		evidence:  make(map[string][]domain.Evidence),
		scores:    make(map[string][]*domain.RiskScore),
		edges:     make(map[string]*domain.TraceEdge),
		seen:      make(map[string]struct{}),
		addresses: make(map[string]*domain.NormalizedAddress),
		transfers: make(map[string][]*domain.TransferRecord),
	}
}

func key(chainID domain.ChainID, address string) string {
	return string(chainID) + ":" + address
}

// -----------------------------------------------------------------------------
// Reputation Repository
// -----------------------------------------------------------------------------

type ReputationRepo struct {
	store *MemoryStorage
}

func NewReputationRepo(store *MemoryStorage) *ReputationRepo {
	return &ReputationRepo{store: store}
}

func (r *ReputationRepo) Get(
	ctx context.Context,
	chainID domain.ChainID,
	address string,
) (*domain.ReputationRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rec, ok := r.store.records[key(chainID, address)]
	if !ok {
		return nil, nil
	}
	// Return copy so callers can't mutate the stored evidence log.
	out := *rec
	out.Evidence = append([]domain.Evidence(nil), r.store.evidence[key(chainID, address)]...)
	return &out, nil
}

func (r *ReputationRepo) Create(ctx context.Context, record *domain.ReputationRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	k := key(record.ChainID, record.Address)
	if _, ok := r.store.records[k]; ok {
		return nil
	}
	rec := *record
	rec.Evidence = nil
	r.store.records[k] = &rec
	return nil
}

func (r *ReputationRepo) AppendEvidence(
	ctx context.Context,
	chainID domain.ChainID,
	address string,
	ev domain.Evidence,
) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	k := key(chainID, address)
	for _, existing := range r.store.evidence[k] {
		if existing.ID == ev.ID {
			return nil
		}
	}
	r.store.evidence[k] = append(r.store.evidence[k], ev)
	return nil
}

func (r *ReputationRepo) UpdateFold(ctx context.Context, record *domain.ReputationRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rec, ok := r.store.records[key(record.ChainID, record.Address)]
	if !ok {
		return fmt.Errorf("reputation record not found")
	}
	rec.Class = record.Class
	rec.Confidence = record.Confidence
	rec.UpdatedAt = record.UpdatedAt
	return nil
}

// -----------------------------------------------------------------------------
// Risk Score Repository
// -----------------------------------------------------------------------------

type RiskRepo struct {
	store *MemoryStorage
}

func NewRiskRepo(store *MemoryStorage) *RiskRepo {
	return &RiskRepo{store: store}
}

func (r *RiskRepo) Save(ctx context.Context, score *domain.RiskScore) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	k := key(score.ChainID, score.TxHash)
	s := *score
	r.store.scores[k] = append(r.store.scores[k], &s)
	return nil
}

func (r *RiskRepo) Latest(
	ctx context.Context,
	chainID domain.ChainID,
	txHash string,
) (*domain.RiskScore, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	history := r.store.scores[key(chainID, txHash)]
	if len(history) == 0 {
		return nil, nil
	}
	s := *history[len(history)-1]
	return &s, nil
}

func (r *RiskRepo) History(
	ctx context.Context,
	chainID domain.ChainID,
	txHash string,
) ([]*domain.RiskScore, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	history := r.store.scores[key(chainID, txHash)]
	var out []*domain.RiskScore
	for i := len(history) - 1; i >= 0; i-- {
		s := *history[i]
		out = append(out, &s)
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Trace Repository
// -----------------------------------------------------------------------------

type TraceRepo struct {
	store *MemoryStorage
}

func NewTraceRepo(store *MemoryStorage) *TraceRepo {
	return &TraceRepo{store: store}
}

func (r *TraceRepo) AppendEdge(ctx context.Context, edge *domain.TraceEdge) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.edges[edge.ID]; ok {
		return nil
	}
	e := *edge
	r.store.edges[edge.ID] = &e
	r.store.edgeOrder = append(r.store.edgeOrder, edge.ID)
	return nil
}

func (r *TraceRepo) ReviseConfidence(ctx context.Context, edgeID string, confidence float64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	edge, ok := r.store.edges[edgeID]
	if !ok {
		return fmt.Errorf("edge %s not found", edgeID)
	}
	if confidence >= edge.Confidence {
		return fmt.Errorf("edge %s: confidence can only be revised downward", edgeID)
	}
	edge.Confidence = confidence
	return nil
}

func (r *TraceRepo) Neighbors(
	ctx context.Context,
	node domain.ChainAddress,
) ([]*domain.TraceEdge, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.TraceEdge
	for _, id := range r.store.edgeOrder {
		edge := r.store.edges[id]
		if edge.From == node || edge.To == node {
			e := *edge
			out = append(out, &e)
		}
	}
	return out, nil
}

func (r *TraceRepo) RecordSighting(ctx context.Context, s *domain.EntitySighting) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	k := strings.Join(
		[]string{s.Entity, string(s.Node.ChainID), s.Node.Address, s.TxHash},
		"|",
	)
	if _, ok := r.store.seen[k]; ok {
		return nil
	}
	r.store.seen[k] = struct{}{}
	copied := *s
	r.store.sightings = append(r.store.sightings, &copied)
	return nil
}

func (r *TraceRepo) SightingsForEntity(
	ctx context.Context,
	entity string,
	from, to time.Time,
) ([]*domain.EntitySighting, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.EntitySighting
	for _, s := range r.store.sightings {
		if s.Entity != entity {
			continue
		}
		if s.ObservedAt.Before(from) || s.ObservedAt.After(to) {
			continue
		}
		copied := *s
		out = append(out, &copied)
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Activity Repository
// -----------------------------------------------------------------------------

type ActivityRepo struct {
	store *MemoryStorage
}

func NewActivityRepo(store *MemoryStorage) *ActivityRepo {
	return &ActivityRepo{store: store}
}

func (r *ActivityRepo) SaveAddress(ctx context.Context, addr *domain.NormalizedAddress) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	k := key(addr.ChainID, addr.Address)
	existing, ok := r.store.addresses[k]
	if !ok {
		a := *addr
		r.store.addresses[k] = &a
		return nil
	}
	if !addr.FirstSeen.IsZero() &&
		(existing.FirstSeen.IsZero() || addr.FirstSeen.Before(existing.FirstSeen)) {
		existing.FirstSeen = addr.FirstSeen
	}
	if addr.TxCount > existing.TxCount {
		existing.TxCount = addr.TxCount
	}
	existing.TotalReceived = addr.TotalReceived
	existing.TotalSent = addr.TotalSent
	existing.IsContract = existing.IsContract || addr.IsContract
	existing.Verified = existing.Verified || addr.Verified
	return nil
}

func (r *ActivityRepo) GetAddress(
	ctx context.Context,
	chainID domain.ChainID,
	address string,
) (*domain.NormalizedAddress, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	addr, ok := r.store.addresses[key(chainID, address)]
	if !ok {
		return nil, nil
	}
	a := *addr
	return &a, nil
}

func (r *ActivityRepo) SaveTransfers(ctx context.Context, transfers []*domain.TransferRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, t := range transfers {
		dedup := strings.Join([]string{
			string(t.ChainID), t.TxHash, t.Address,
			t.Counterparty, string(t.Direction), t.Asset,
		}, "|")
		if _, ok := r.store.seen[dedup]; ok {
			continue
		}
		r.store.seen[dedup] = struct{}{}
		copied := *t
		k := key(t.ChainID, t.Address)
		r.store.transfers[k] = append(r.store.transfers[k], &copied)
	}
	return nil
}

func (r *ActivityRepo) Stats(
	ctx context.Context,
	chainID domain.ChainID,
	address string,
) (*domain.AddressStats, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	transfers := r.store.transfers[key(chainID, address)]
	if len(transfers) == 0 {
		return nil, nil
	}

	stats := &domain.AddressStats{
		ChainID: chainID,
		Address: address,
	}

	txs := make(map[string]struct{})
	amounts := make([]float64, 0, len(transfers))
	for _, t := range transfers {
		txs[t.TxHash] = struct{}{}
		stats.TotalVolume = stats.TotalVolume.Add(t.Amount)
		if t.Amount.GreaterThan(stats.MaxValue) {
			stats.MaxValue = t.Amount
		}
		if stats.FirstSeen.IsZero() || t.Timestamp.Before(stats.FirstSeen) {
			stats.FirstSeen = t.Timestamp
		}
		f, _ := t.Amount.Float64()
		amounts = append(amounts, f)
	}
	stats.TxCount = uint64(len(txs))
	stats.ValueP95 = decimal.NewFromFloat(percentile(amounts, 0.95))
	return stats, nil
}

// percentile interpolates like PERCENTILE_CONT.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sort.Float64s(values)
	if len(values) == 1 {
		return values[0]
	}
	idx := p * float64(len(values)-1)
	lower := int(idx)
	if lower >= len(values)-1 {
		return values[len(values)-1]
	}
	frac := idx - float64(lower)
	return values[lower] + frac*(values[lower+1]-values[lower])
}

func (r *ActivityRepo) RecentTransfers(
	ctx context.Context,
	chainID domain.ChainID,
	address string,
	since time.Time,
) ([]*domain.TransferRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.TransferRecord
	for _, t := range r.store.transfers[key(chainID, address)] {
		if t.Timestamp.Before(since) {
			continue
		}
		copied := *t
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (r *ActivityRepo) Counterparties(
	ctx context.Context,
	chainID domain.ChainID,
	address string,
) ([]string, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	set := make(map[string]struct{})
	var out []string
	for _, t := range r.store.transfers[key(chainID, address)] {
		if t.Counterparty == "" {
			continue
		}
		if _, ok := set[t.Counterparty]; ok {
			continue
		}
		set[t.Counterparty] = struct{}{}
		out = append(out, t.Counterparty)
	}
	return out, nil
}
