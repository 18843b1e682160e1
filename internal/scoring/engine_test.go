package scoring

import (
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quarklabs/chainrisk/internal/core/config"
	"github.com/quarklabs/chainrisk/internal/core/domain"
)

func testConfig() config.ScoringConfig {
	return config.ScoringConfig{
		ModelVersion:     "chainrisk-scoring/1",
		ReputationWeight: 0.40,
		MEVWeight:        0.15,
		PatternWeight:    0.20,
		ValueWeight:      0.15,
		NoveltyWeight:    0.10,
		SanctionsFloor:   80,
	}
}

func plainTransfer() *domain.NormalizedTransaction {
	return &domain.NormalizedTransaction{
		ChainID:     domain.ChainIDEthereum,
		TxHash:      "0xscored",
		BlockHeight: 100,
		Timestamp:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Status:      domain.TxStatusConfirmed,
		Inputs: []domain.Transfer{
			{Address: "0xsender", Amount: decimal.NewFromInt(5), Asset: "ETH"},
		},
		Outputs: []domain.Transfer{
			{Address: "0xreceiver", Amount: decimal.NewFromInt(5), Asset: "ETH"},
		},
	}
}

func TestScore_Deterministic(t *testing.T) {
	e := NewEngine(testConfig())
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	reps := []*domain.ReputationRecord{
		{Address: "0xsender", Class: domain.ClassNeutral},
		{Address: "0xreceiver", Class: domain.ClassSuspicious, Confidence: 0.6},
	}
	in := Inputs{
		Tx:          plainTransfer(),
		Reputations: reps,
		Intel: &domain.TxIntel{
			MEV:      domain.MEVFlags{FrontRun: true},
			Patterns: domain.PatternFlags{MixerProximity: 2},
		},
		ComputedAt: at,
	}

	first, err := e.Score(in)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	second, err := e.Score(in)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("same inputs produced different scores:\n%+v\n%+v", first, second)
	}

	// Counterparty order must not matter.
	in.Reputations = []*domain.ReputationRecord{reps[1], reps[0]}
	third, err := e.Score(in)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if third.Score != first.Score {
		t.Errorf("record order changed score: %d vs %d", third.Score, first.Score)
	}
}

func TestScore_FixedFactorOrder(t *testing.T) {
	e := NewEngine(testConfig())

	score, err := e.Score(Inputs{Tx: plainTransfer()})
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	want := []string{
		FactorCounterpartyReputation,
		FactorMEVExposure,
		FactorBehavioralPatterns,
		FactorValuePercentile,
		FactorContractNovelty,
	}
	if len(score.Factors) != len(want) {
		t.Fatalf("expected %d factors, got %d", len(want), len(score.Factors))
	}
	for i, name := range want {
		if score.Factors[i].Name != name {
			t.Errorf("factor %d: expected %s, got %s", i, name, score.Factors[i].Name)
		}
	}
	if score.ModelVersion != "chainrisk-scoring/1" {
		t.Errorf("unexpected model version %q", score.ModelVersion)
	}
}

func TestScore_SanctionedFloor(t *testing.T) {
	e := NewEngine(testConfig())

	score, err := e.Score(Inputs{
		Tx: plainTransfer(),
		Reputations: []*domain.ReputationRecord{
			{Address: "0xsender", Class: domain.ClassSanctioned, Confidence: 1.0},
		},
	})
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if score.Score < 80 {
		t.Errorf("sanctioned counterparty must floor at 80, got %d", score.Score)
	}

	found := false
	for _, f := range score.Flags {
		if f == "sanctioned_counterparty" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected sanctioned_counterparty flag, got %v", score.Flags)
	}
}

func TestScore_FreshUnknownOutranksAgedClean(t *testing.T) {
	e := NewEngine(testConfig())
	tx := plainTransfer()

	fresh, err := e.Score(Inputs{
		Tx: tx,
		Reputations: []*domain.ReputationRecord{
			{Address: "0xsender", Class: domain.ClassUnknown},
		},
		SenderStats: nil, // never seen before
	})
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	aged, err := e.Score(Inputs{
		Tx: tx,
		Reputations: []*domain.ReputationRecord{
			{Address: "0xsender", Class: domain.ClassTrusted, Confidence: 1.0},
		},
		SenderStats: &domain.AddressStats{
			TxCount:  500,
			MaxValue: decimal.NewFromInt(100),
			ValueP95: decimal.NewFromInt(50),
		},
	})
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	if fresh.Score <= aged.Score {
		t.Errorf("fresh unknown sender (%d) must outscore aged clean sender (%d)",
			fresh.Score, aged.Score)
	}
}

func TestScore_ClampedToRange(t *testing.T) {
	cfg := testConfig()
	// Inflated weights push the weighted sum past 100.
	cfg.ReputationWeight = 1.0
	cfg.MEVWeight = 1.0
	cfg.PatternWeight = 1.0
	e := NewEngine(cfg)

	score, err := e.Score(Inputs{
		Tx: plainTransfer(),
		Reputations: []*domain.ReputationRecord{
			{Address: "0xsender", Class: domain.ClassSanctioned},
		},
		Intel: &domain.TxIntel{
			MEV:      domain.MEVFlags{Sandwich: true},
			Patterns: domain.PatternFlags{Structuring: true, MixerProximity: 1},
		},
	})
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if score.Score > 100 {
		t.Errorf("score must clamp to 100, got %d", score.Score)
	}
}

func TestScore_ValuePercentile(t *testing.T) {
	e := NewEngine(testConfig())

	stats := &domain.AddressStats{
		TxCount:  50,
		MaxValue: decimal.NewFromInt(10),
		ValueP95: decimal.NewFromInt(8),
	}

	tests := []struct {
		name   string
		amount int64
		raw    float64
	}{
		{"above max", 12, 1.0},
		{"above p95", 9, 0.8},
		{"median", 4, 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := plainTransfer()
			tx.Outputs[0].Amount = decimal.NewFromInt(tt.amount)
			score, err := e.Score(Inputs{Tx: tx, SenderStats: stats})
			if err != nil {
				t.Fatalf("Score failed: %v", err)
			}
			got := score.Factors[3].Raw
			if got != tt.raw {
				t.Errorf("expected raw %v, got %v", tt.raw, got)
			}
		})
	}
}

func TestScore_ContractNovelty(t *testing.T) {
	e := NewEngine(testConfig())
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	tx := plainTransfer()
	tx.Timestamp = at
	tx.CallData = "0xa9059cbb"

	fresh := &domain.NormalizedAddress{
		FirstSeen: at.Add(-24 * time.Hour),
		Verified:  false,
	}
	old := &domain.NormalizedAddress{
		FirstSeen: at.AddDate(-2, 0, 0),
		Verified:  true,
	}

	freshScore, err := e.Score(Inputs{Tx: tx, Contract: fresh})
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	oldScore, err := e.Score(Inputs{Tx: tx, Contract: old})
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	if freshScore.Factors[4].Raw <= oldScore.Factors[4].Raw {
		t.Errorf("fresh unverified contract (%v) must outrank verified old one (%v)",
			freshScore.Factors[4].Raw, oldScore.Factors[4].Raw)
	}

	creation := plainTransfer()
	creation.ContractCreation = true
	creationScore, err := e.Score(Inputs{Tx: creation})
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if creationScore.Factors[4].Raw != 1.0 {
		t.Errorf("contract creation must max novelty, got %v", creationScore.Factors[4].Raw)
	}
}
