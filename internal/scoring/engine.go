package scoring

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/quarklabs/chainrisk/internal/core/config"
	"github.com/quarklabs/chainrisk/internal/core/domain"
	"github.com/quarklabs/chainrisk/internal/metrics"
)

// Factor names, in the fixed order they appear on every score.
const (
	FactorCounterpartyReputation = "counterparty_reputation"
	FactorMEVExposure            = "mev_exposure"
	FactorBehavioralPatterns     = "behavioral_patterns"
	FactorValuePercentile        = "value_percentile"
	FactorContractNovelty        = "contract_novelty"
)

const contractNoveltyAge = 30 * 24 * time.Hour

// Inputs carries everything a score depends on. The engine reads nothing
// else: scoring the same inputs always yields the same score.
type Inputs struct {
	Tx          *domain.NormalizedTransaction
	Reputations []*domain.ReputationRecord // counterparty records, any order
	Intel       *domain.TxIntel            // nil when the pipeline was skipped
	SenderStats *domain.AddressStats       // nil when the sender has no history
	Contract    *domain.NormalizedAddress  // nil when no contract is involved
	ComputedAt  time.Time                  // stamped on the output only
}

// Engine turns gathered inputs into a 0-100 risk score.
type Engine struct {
	cfg config.ScoringConfig
}

// NewEngine creates a scoring engine.
func NewEngine(cfg config.ScoringConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Score computes the weighted risk score. Factors appear in fixed order with
// zero-signal entries retained, so two runs over the same inputs produce
// byte-identical results.
func (e *Engine) Score(in Inputs) (*domain.RiskScore, error) {
	if in.Tx == nil {
		return nil, fmt.Errorf("scoring requires a transaction")
	}

	sanctioned := false
	flags := make([]string, 0, 4)

	factors := []domain.RiskFactor{
		e.counterpartyFactor(in.Reputations, &sanctioned),
		e.mevFactor(in.Intel),
		e.patternFactor(in.Intel),
		e.valueFactor(in.Tx, in.SenderStats),
		e.noveltyFactor(in.Tx, in.Contract),
	}

	var total float64
	for i := range factors {
		factors[i].Contribution = round2(factors[i].Raw * factors[i].Weight * 100)
		total += factors[i].Contribution
	}

	score := clamp(int(math.Round(total)))

	if in.Intel != nil {
		flags = append(flags, in.Intel.FlagStrings()...)
	}
	if sanctioned {
		flags = append(flags, "sanctioned_counterparty")
		if score < e.cfg.SanctionsFloor {
			score = e.cfg.SanctionsFloor
		}
	}
	sort.Strings(flags)

	metrics.RiskScores.WithLabelValues(string(in.Tx.ChainID)).Observe(float64(score))

	return &domain.RiskScore{
		ChainID:      in.Tx.ChainID,
		TxHash:       in.Tx.TxHash,
		Score:        score,
		Factors:      factors,
		Flags:        flags,
		ModelVersion: e.cfg.ModelVersion,
		ComputedAt:   in.ComputedAt,
	}, nil
}

// counterpartyFactor takes the worst counterparty signal. Max over records is
// commutative, so the caller's record order never matters.
func (e *Engine) counterpartyFactor(
	records []*domain.ReputationRecord,
	sanctioned *bool,
) domain.RiskFactor {
	f := domain.RiskFactor{
		Name:   FactorCounterpartyReputation,
		Weight: e.cfg.ReputationWeight,
	}

	worst := ""
	for _, rec := range records {
		if rec == nil {
			continue
		}
		var raw float64
		switch rec.Class {
		case domain.ClassSanctioned:
			raw = 1.0
			*sanctioned = true
		case domain.ClassSuspicious:
			raw = 0.5 + 0.3*rec.Confidence
		case domain.ClassUnknown:
			raw = 0.3
		case domain.ClassNeutral:
			raw = 0.2
		case domain.ClassTrusted:
			raw = 0.05 * (1 - rec.Confidence)
		}
		if raw > f.Raw {
			f.Raw = raw
			worst = fmt.Sprintf("%s (%s)", rec.Address, rec.Class)
		}
	}
	if worst != "" {
		f.Detail = "worst counterparty: " + worst
	}
	return f
}

func (e *Engine) mevFactor(intel *domain.TxIntel) domain.RiskFactor {
	f := domain.RiskFactor{Name: FactorMEVExposure, Weight: e.cfg.MEVWeight}
	if intel == nil {
		return f
	}
	switch {
	case intel.MEV.Sandwich:
		f.Raw = 1.0
		f.Detail = "sandwich pattern in block neighborhood"
	case intel.MEV.FrontRun:
		f.Raw = 0.7
		f.Detail = "front-run pattern in block neighborhood"
	}
	return f
}

func (e *Engine) patternFactor(intel *domain.TxIntel) domain.RiskFactor {
	f := domain.RiskFactor{Name: FactorBehavioralPatterns, Weight: e.cfg.PatternWeight}
	if intel == nil {
		return f
	}
	if intel.Patterns.Structuring {
		f.Raw = 0.8
		f.Detail = "structuring window tripped"
	}
	switch intel.Patterns.MixerProximity {
	case 0:
	case 1:
		if f.Raw < 1.0 {
			f.Raw = 1.0
			f.Detail = "direct mixer counterparty"
		}
	default:
		if f.Raw < 0.6 {
			f.Raw = 0.6
			f.Detail = fmt.Sprintf("mixer within %d hops", intel.Patterns.MixerProximity)
		}
	}
	return f
}

// valueFactor positions the transaction's total against the sender's history.
// No history reads as 0.5: a first-seen sender is itself a mild signal.
func (e *Engine) valueFactor(
	tx *domain.NormalizedTransaction,
	stats *domain.AddressStats,
) domain.RiskFactor {
	f := domain.RiskFactor{Name: FactorValuePercentile, Weight: e.cfg.ValueWeight}

	total := tx.TotalOutput()
	if stats == nil || stats.TxCount == 0 {
		f.Raw = 0.5
		f.Detail = "no sender history"
		return f
	}

	switch {
	case total.GreaterThan(stats.MaxValue):
		f.Raw = 1.0
		f.Detail = "above sender's historical maximum"
	case stats.ValueP95.IsPositive() && total.GreaterThanOrEqual(stats.ValueP95):
		f.Raw = 0.8
		f.Detail = "above sender's 95th percentile"
	case stats.ValueP95.IsPositive():
		ratio, _ := total.Div(stats.ValueP95).Float64()
		f.Raw = round2(0.5 * ratio)
	}
	return f
}

func (e *Engine) noveltyFactor(
	tx *domain.NormalizedTransaction,
	contract *domain.NormalizedAddress,
) domain.RiskFactor {
	f := domain.RiskFactor{Name: FactorContractNovelty, Weight: e.cfg.NoveltyWeight}

	if tx.ContractCreation {
		f.Raw = 1.0
		f.Detail = "contract created in this transaction"
		return f
	}
	if len(tx.CallData) == 0 {
		return f
	}
	if contract == nil {
		f.Raw = 0.6
		f.Detail = "contract call, no metadata"
		return f
	}

	age := tx.Timestamp.Sub(contract.FirstSeen)
	fresh := age < contractNoveltyAge
	switch {
	case fresh && !contract.Verified:
		f.Raw = 0.9
		f.Detail = "fresh unverified contract"
	case fresh:
		f.Raw = 0.5
		f.Detail = "fresh verified contract"
	case !contract.Verified:
		f.Raw = 0.4
		f.Detail = "unverified contract"
	default:
		f.Raw = 0.1
	}
	return f
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
