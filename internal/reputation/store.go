package reputation

import (
	"context"
	"fmt"
	"hash/fnv"
	logger "log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quarklabs/chainrisk/internal/core/config"
	"github.com/quarklabs/chainrisk/internal/core/domain"
	"github.com/quarklabs/chainrisk/internal/infra/storage"
	"github.com/quarklabs/chainrisk/internal/metrics"
)

const stripeCount = 64

// Store manages address reputation records. Evidence is append-only; the
// record's class and confidence are a fold over the full evidence set, so
// appends in any order converge to the same record.
type Store struct {
	repo    storage.ReputationRepository
	cfg     config.ReputationConfig
	stripes [stripeCount]sync.Mutex
}

// NewStore creates a reputation store.
func NewStore(repo storage.ReputationRepository, cfg config.ReputationConfig) *Store {
	return &Store{repo: repo, cfg: cfg}
}

func (s *Store) stripe(chainID domain.ChainID, address string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(chainID))
	h.Write([]byte{':'})
	h.Write([]byte(address))
	return &s.stripes[h.Sum32()%stripeCount]
}

// Get retrieves an address's reputation, creating an unknown-class record on
// first sight. Lookups never fail for unknown addresses.
func (s *Store) Get(
	ctx context.Context,
	chainID domain.ChainID,
	address string,
) (*domain.ReputationRecord, error) {
	rec, err := s.repo.Get(ctx, chainID, address)
	if err != nil {
		return nil, fmt.Errorf("failed to load reputation: %w", err)
	}
	if rec != nil {
		return rec, nil
	}

	now := time.Now().UTC()
	rec = &domain.ReputationRecord{
		ChainID:    chainID,
		Address:    address,
		Class:      domain.ClassUnknown,
		Confidence: 0,
		FirstSeen:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create reputation: %w", err)
	}
	// A concurrent create may have won; read back the stored row.
	stored, err := s.repo.Get(ctx, chainID, address)
	if err != nil {
		return nil, fmt.Errorf("failed to load reputation: %w", err)
	}
	if stored != nil {
		return stored, nil
	}
	return rec, nil
}

// Append records one evidence entry and re-folds the record. Appends for the
// same address are serialized; different addresses proceed in parallel.
func (s *Store) Append(
	ctx context.Context,
	chainID domain.ChainID,
	address string,
	ev domain.Evidence,
) (*domain.ReputationRecord, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Weight < 0 || ev.Weight > 1 {
		return nil, fmt.Errorf("evidence weight %v outside [0,1]", ev.Weight)
	}

	mu := s.stripe(chainID, address)
	mu.Lock()
	defer mu.Unlock()

	rec, err := s.Get(ctx, chainID, address)
	if err != nil {
		return nil, err
	}

	// Callers derive IDs from the observation, so replaying one is a no-op.
	for _, existing := range rec.Evidence {
		if existing.ID == ev.ID {
			return rec, nil
		}
	}

	checkConsistency(chainID, rec.Evidence, ev)

	if err := s.repo.AppendEvidence(ctx, chainID, address, ev); err != nil {
		return nil, fmt.Errorf("failed to append evidence: %w", err)
	}
	rec.Evidence = append(rec.Evidence, ev)

	now := time.Now().UTC()
	rec.Class, rec.Confidence = Fold(rec.Evidence, rec.FirstSeen, now, s.cfg)
	rec.UpdatedAt = now

	if err := s.repo.UpdateFold(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store fold: %w", err)
	}

	metrics.EvidenceAppends.WithLabelValues(string(chainID), string(ev.Kind)).Inc()
	return rec, nil
}

// checkConsistency flags surprising evidence sequences. They are recorded
// anyway: the fold is total over whatever the log contains.
func checkConsistency(chainID domain.ChainID, existing []domain.Evidence, ev domain.Evidence) {
	if ev.Kind != domain.EvidenceSanctionRemoval {
		return
	}
	for _, e := range existing {
		if e.Kind == domain.EvidenceSanction {
			return
		}
	}
	metrics.InconsistentEvidence.WithLabelValues(string(chainID)).Inc()
	logger.Warn("sanction removal without prior sanction",
		"source", ev.Source,
		"evidence_id", ev.ID)
}

// Fold derives class and confidence from an evidence set. The result depends
// only on the set's contents, never on append order.
//
// Precedence: sanctioned > suspicious > trusted > neutral > unknown. A
// sanction pins the class until a removal with a strictly later timestamp
// clears it; a removal at the same instant does not. Confidence is the
// normalized total evidence weight, capped at 1.0, whatever the class.
func Fold(
	evidence []domain.Evidence,
	firstSeen, now time.Time,
	cfg config.ReputationConfig,
) (domain.ReputationClass, float64) {
	var (
		latestSanction time.Time
		latestRemoval  time.Time
		totalMass      float64
		suspicionMass  float64
		hasSanction    bool
		hasNegative    bool
	)

	for _, ev := range evidence {
		totalMass += math.Abs(ev.Weight)
		switch ev.Kind {
		case domain.EvidenceSanction:
			hasSanction = true
			hasNegative = true
			if ev.Timestamp.After(latestSanction) {
				latestSanction = ev.Timestamp
			}
		case domain.EvidenceSanctionRemoval:
			if ev.Timestamp.After(latestRemoval) {
				latestRemoval = ev.Timestamp
			}
		case domain.EvidenceSuspicion:
			hasNegative = true
			suspicionMass += ev.Weight
		}
	}

	confidence := capConfidence(totalMass / cfg.ConfidenceNormalizer)

	if hasSanction && !latestRemoval.After(latestSanction) {
		return domain.ClassSanctioned, confidence
	}

	if suspicionMass >= cfg.SuspiciousThreshold {
		return domain.ClassSuspicious, confidence
	}

	mature := !firstSeen.IsZero() && now.Sub(firstSeen) >= cfg.MaturityAge
	if mature && !hasNegative {
		return domain.ClassTrusted, confidence
	}

	if len(evidence) == 0 {
		return domain.ClassUnknown, 0
	}
	return domain.ClassNeutral, confidence
}

func capConfidence(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
