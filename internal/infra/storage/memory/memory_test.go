package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quarklabs/chainrisk/internal/core/domain"
)

func TestReputationRepo_EvidenceAppendOnly(t *testing.T) {
	store := NewMemoryStorage()
	repo := NewReputationRepo(store)
	ctx := context.Background()

	now := time.Now().UTC()
	rec := &domain.ReputationRecord{
		ChainID:   domain.ChainIDEthereum,
		Address:   "0xabc",
		Class:     domain.ClassNeutral,
		FirstSeen: now,
		UpdatedAt: now,
	}
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Second create must not reset the record.
	rec2 := *rec
	rec2.Class = domain.ClassSanctioned
	if err := repo.Create(ctx, &rec2); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := repo.Get(ctx, domain.ChainIDEthereum, "0xabc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Class != domain.ClassNeutral {
		t.Errorf("expected neutral after duplicate create, got %s", got.Class)
	}

	ev := domain.Evidence{
		ID:        "ev-1",
		Kind:      domain.EvidenceSuspicion,
		Source:    "pattern:structuring",
		Weight:    0.4,
		Timestamp: now,
	}
	if err := repo.AppendEvidence(ctx, domain.ChainIDEthereum, "0xabc", ev); err != nil {
		t.Fatalf("AppendEvidence failed: %v", err)
	}
	// Replays of the same evidence ID are ignored.
	if err := repo.AppendEvidence(ctx, domain.ChainIDEthereum, "0xabc", ev); err != nil {
		t.Fatalf("AppendEvidence failed: %v", err)
	}

	got, err = repo.Get(ctx, domain.ChainIDEthereum, "0xabc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Evidence) != 1 {
		t.Errorf("expected 1 evidence entry, got %d", len(got.Evidence))
	}

	// Mutating the returned copy must not touch the store.
	got.Evidence[0].Weight = 0.99
	again, _ := repo.Get(ctx, domain.ChainIDEthereum, "0xabc")
	if again.Evidence[0].Weight != 0.4 {
		t.Errorf("stored evidence mutated through returned copy")
	}
}

func TestReputationRepo_GetUnknownReturnsNil(t *testing.T) {
	repo := NewReputationRepo(NewMemoryStorage())
	got, err := repo.Get(context.Background(), domain.ChainIDBitcoin, "bc1qnothing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for unknown address, got %+v", got)
	}
}

func TestRiskRepo_LatestAndHistory(t *testing.T) {
	store := NewMemoryStorage()
	repo := NewRiskRepo(store)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, v := range []int{10, 35, 62} {
		score := &domain.RiskScore{
			ChainID:      domain.ChainIDEthereum,
			TxHash:       "0xdead",
			Score:        v,
			ModelVersion: "chainrisk-scoring/1",
			ComputedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.Save(ctx, score); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	latest, err := repo.Latest(ctx, domain.ChainIDEthereum, "0xdead")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.Score != 62 {
		t.Errorf("expected latest score 62, got %d", latest.Score)
	}

	history, err := repo.History(ctx, domain.ChainIDEthereum, "0xdead")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 3 || history[0].Score != 62 || history[2].Score != 10 {
		t.Errorf("expected newest-first history [62 35 10], got %+v", history)
	}

	missing, err := repo.Latest(ctx, domain.ChainIDEthereum, "0xno-such")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unscored tx, got %+v", missing)
	}
}

func TestTraceRepo_ConfidenceOnlyDownward(t *testing.T) {
	store := NewMemoryStorage()
	repo := NewTraceRepo(store)
	ctx := context.Background()

	edge := &domain.TraceEdge{
		ID:   "edge-1",
		Kind: domain.EdgeBridgeTransfer,
		From: domain.ChainAddress{ChainID: domain.ChainIDEthereum, Address: "0xaaa"},
		To:   domain.ChainAddress{ChainID: domain.ChainIDBitcoin, Address: "bc1qbbb"},
		Directed:   true,
		Confidence: 0.9,
		ObservedAt: time.Now().UTC(),
	}
	if err := repo.AppendEdge(ctx, edge); err != nil {
		t.Fatalf("AppendEdge failed: %v", err)
	}

	if err := repo.ReviseConfidence(ctx, "edge-1", 0.95); err == nil {
		t.Fatal("expected error raising confidence")
	}
	if err := repo.ReviseConfidence(ctx, "edge-1", 0.5); err != nil {
		t.Fatalf("ReviseConfidence failed: %v", err)
	}

	edges, err := repo.Neighbors(ctx, domain.ChainAddress{
		ChainID: domain.ChainIDBitcoin, Address: "bc1qbbb",
	})
	if err != nil {
		t.Fatalf("Neighbors failed: %v", err)
	}
	if len(edges) != 1 || edges[0].Confidence != 0.5 {
		t.Errorf("expected one edge with confidence 0.5, got %+v", edges)
	}
}

func TestTraceRepo_SightingsWindow(t *testing.T) {
	store := NewMemoryStorage()
	repo := NewTraceRepo(store)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, chain := range []domain.ChainID{domain.ChainIDEthereum, domain.ChainIDBitcoin} {
		s := &domain.EntitySighting{
			Entity:     "exchange:kraken",
			Node:       domain.ChainAddress{ChainID: chain, Address: "addr"},
			TxHash:     "tx",
			ObservedAt: base.Add(time.Duration(i) * 12 * time.Hour),
		}
		if err := repo.RecordSighting(ctx, s); err != nil {
			t.Fatalf("RecordSighting failed: %v", err)
		}
	}

	got, err := repo.SightingsForEntity(ctx, "exchange:kraken", base, base.Add(6*time.Hour))
	if err != nil {
		t.Fatalf("SightingsForEntity failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 sighting inside window, got %d", len(got))
	}
}

func TestActivityRepo_StatsAndCounterparties(t *testing.T) {
	store := NewMemoryStorage()
	repo := NewActivityRepo(store)
	ctx := context.Background()

	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	var transfers []*domain.TransferRecord
	for i := 1; i <= 20; i++ {
		transfers = append(transfers, &domain.TransferRecord{
			ChainID:      domain.ChainIDEthereum,
			Address:      "0xabc",
			Counterparty: "0xcp1",
			Direction:    domain.DirectionOut,
			Amount:       decimal.NewFromInt(int64(i)),
			Asset:        "ETH",
			TxHash:       "0xtx" + string(rune('a'+i)),
			Timestamp:    base.Add(time.Duration(i) * time.Hour),
		})
	}
	// Replay of the first transfer must be dropped.
	transfers = append(transfers, transfers[0])

	if err := repo.SaveTransfers(ctx, transfers); err != nil {
		t.Fatalf("SaveTransfers failed: %v", err)
	}

	stats, err := repo.Stats(ctx, domain.ChainIDEthereum, "0xabc")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TxCount != 20 {
		t.Errorf("expected 20 distinct txs, got %d", stats.TxCount)
	}
	if !stats.MaxValue.Equal(decimal.NewFromInt(20)) {
		t.Errorf("expected max 20, got %s", stats.MaxValue)
	}
	if !stats.TotalVolume.Equal(decimal.NewFromInt(210)) {
		t.Errorf("expected volume 210, got %s", stats.TotalVolume)
	}
	// PERCENTILE_CONT over 1..20 at 0.95 interpolates to 19.05.
	p95, _ := stats.ValueP95.Float64()
	if p95 < 19.0 || p95 > 19.1 {
		t.Errorf("expected p95 near 19.05, got %v", p95)
	}

	cps, err := repo.Counterparties(ctx, domain.ChainIDEthereum, "0xabc")
	if err != nil {
		t.Fatalf("Counterparties failed: %v", err)
	}
	if len(cps) != 1 || cps[0] != "0xcp1" {
		t.Errorf("expected single counterparty 0xcp1, got %v", cps)
	}

	recent, err := repo.RecentTransfers(
		ctx, domain.ChainIDEthereum, "0xabc", base.Add(15*time.Hour))
	if err != nil {
		t.Fatalf("RecentTransfers failed: %v", err)
	}
	if len(recent) != 6 {
		t.Errorf("expected 6 transfers since cutoff, got %d", len(recent))
	}
}

func TestActivityRepo_SaveAddressMerges(t *testing.T) {
	store := NewMemoryStorage()
	repo := NewActivityRepo(store)
	ctx := context.Background()

	early := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	first := &domain.NormalizedAddress{
		ChainID: domain.ChainIDEthereum, Address: "0xabc",
		FirstSeen: late, TxCount: 5, IsContract: true,
	}
	second := &domain.NormalizedAddress{
		ChainID: domain.ChainIDEthereum, Address: "0xabc",
		FirstSeen: early, TxCount: 3, Verified: true,
	}
	if err := repo.SaveAddress(ctx, first); err != nil {
		t.Fatalf("SaveAddress failed: %v", err)
	}
	if err := repo.SaveAddress(ctx, second); err != nil {
		t.Fatalf("SaveAddress failed: %v", err)
	}

	got, err := repo.GetAddress(ctx, domain.ChainIDEthereum, "0xabc")
	if err != nil {
		t.Fatalf("GetAddress failed: %v", err)
	}
	if !got.FirstSeen.Equal(early) {
		t.Errorf("expected earliest first_seen kept, got %v", got.FirstSeen)
	}
	if got.TxCount != 5 {
		t.Errorf("expected tx_count 5 kept, got %d", got.TxCount)
	}
	if !got.IsContract || !got.Verified {
		t.Errorf("expected contract and verified flags to stick, got %+v", got)
	}
}
