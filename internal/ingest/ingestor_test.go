package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quarklabs/chainrisk/internal/chain"
	"github.com/quarklabs/chainrisk/internal/core/config"
	"github.com/quarklabs/chainrisk/internal/core/domain"
	"github.com/quarklabs/chainrisk/internal/infra/storage/memory"
	"github.com/quarklabs/chainrisk/internal/reputation"
	"github.com/quarklabs/chainrisk/internal/source"
)

// testAdapter normalizes a minimal JSON payload so history fixtures do not
// depend on real chain encodings.
type testAdapter struct{}

func (testAdapter) ChainID() domain.ChainID    { return domain.ChainIDEthereum }
func (testAdapter) Family() domain.ChainFamily { return domain.FamilyAccount }

func (testAdapter) NormalizeTransaction(raw []byte) (*domain.NormalizedTransaction, error) {
	var p struct {
		Hash   string `json:"hash"`
		From   string `json:"from"`
		To     string `json:"to"`
		Amount string `json:"amount"`
		Ts     string `json:"ts"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, domain.Malformed("payload", err.Error())
	}
	if p.Hash == "" {
		return nil, domain.Malformed("hash", "missing")
	}
	ts, err := time.Parse(time.RFC3339, p.Ts)
	if err != nil {
		return nil, domain.Malformed("ts", err.Error())
	}
	amount, err := decimal.NewFromString(p.Amount)
	if err != nil {
		return nil, domain.Malformed("amount", err.Error())
	}
	return &domain.NormalizedTransaction{
		ChainID:   domain.ChainIDEthereum,
		TxHash:    p.Hash,
		Status:    domain.TxStatusConfirmed,
		Timestamp: ts,
		Inputs:    []domain.Transfer{{Address: p.From, Amount: amount, Asset: "ETH"}},
		Outputs:   []domain.Transfer{{Address: p.To, Amount: amount, Asset: "ETH"}},
	}, nil
}

func (testAdapter) NormalizeAddress([]byte) (*domain.NormalizedAddress, error) {
	return nil, domain.Malformed("payload", "unsupported")
}

func (testAdapter) CanonicalAddress(address string) (string, error) {
	return strings.ToLower(address), nil
}

func rawTx(hash, from, to, amount string, ts time.Time) []byte {
	b, _ := json.Marshal(map[string]string{
		"hash": hash, "from": from, "to": to,
		"amount": amount, "ts": ts.Format(time.RFC3339),
	})
	return b
}

type fakeSource struct {
	pages   []*source.HistoryPage
	fetches int
}

func (f *fakeSource) ChainID() domain.ChainID { return domain.ChainIDEthereum }
func (f *fakeSource) Name() string            { return "fake" }

func (f *fakeSource) FetchRawTransaction(context.Context, string) ([]byte, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeSource) FetchRawAddressHistory(
	_ context.Context,
	_ string,
	cursor string,
	_ int,
) (*source.HistoryPage, error) {
	f.fetches++
	idx := 0
	if cursor != "" {
		idx, _ = strconv.Atoi(cursor)
	}
	if idx >= len(f.pages) {
		return &source.HistoryPage{}, nil
	}
	return f.pages[idx], nil
}

func (f *fakeSource) FetchBalance(context.Context, string, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeSource) FetchBlockTransactions(context.Context, uint64) ([][]byte, error) {
	return nil, nil
}

func (f *fakeSource) Health(context.Context) error { return nil }

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired int
}

func (l *fakeLocker) AcquireIngestLock(
	_ context.Context,
	chainID domain.ChainID,
	address string,
	_ time.Duration,
) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	key := string(chainID) + ":" + address
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	l.acquired++
	return true, nil
}

func (l *fakeLocker) ReleaseIngestLock(
	_ context.Context,
	chainID domain.ChainID,
	address string,
) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, string(chainID)+":"+address)
	return nil
}

type ingestFixture struct {
	ingestor *Ingestor
	activity *memory.ActivityRepo
	repStore *reputation.Store
	locker   *fakeLocker
	src      *fakeSource
}

func newIngestFixture(t *testing.T, pages []*source.HistoryPage) *ingestFixture {
	t.Helper()
	store := memory.NewMemoryStorage()
	activity := memory.NewActivityRepo(store)
	repStore := reputation.NewStore(memory.NewReputationRepo(store), config.ReputationConfig{
		SuspiciousThreshold:  0.75,
		MaturityAge:          180 * 24 * time.Hour,
		ConfidenceNormalizer: 3.0,
	})

	registry := chain.NewRegistry()
	registry.Register(testAdapter{})

	src := &fakeSource{pages: pages}
	locker := &fakeLocker{}
	ing := NewIngestor(
		config.IngestConfig{Workers: 2, PageLimit: 2, QueueSize: 8},
		map[domain.ChainID]source.NodeSource{domain.ChainIDEthereum: src},
		registry,
		activity,
		repStore,
		locker,
	)
	return &ingestFixture{ingestor: ing, activity: activity, repStore: repStore, locker: locker, src: src}
}

func TestIngestOne_PagesAndStores(t *testing.T) {
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	pages := []*source.HistoryPage{
		{
			Items: [][]byte{
				rawTx("0xt1", "0xuser", "0xa", "10", base.Add(time.Hour)),
				rawTx("0xt2", "0xb", "0xuser", "5", base),
			},
			NextCursor: "1",
		},
		{
			Items: [][]byte{
				rawTx("0xt3", "0xuser", "0xc", "3", base.Add(2*time.Hour)),
				rawTx("0xt4", "0xuser", "0xa", "2", base.Add(3*time.Hour)),
			},
		},
	}
	f := newIngestFixture(t, pages)

	err := f.ingestor.ingestOne(context.Background(), request{domain.ChainIDEthereum, "0xuser"})
	if err != nil {
		t.Fatalf("ingestOne failed: %v", err)
	}
	if f.src.fetches != 2 {
		t.Errorf("expected 2 page fetches, got %d", f.src.fetches)
	}

	addr, err := f.activity.GetAddress(context.Background(), domain.ChainIDEthereum, "0xuser")
	if err != nil {
		t.Fatalf("GetAddress failed: %v", err)
	}
	if addr == nil {
		t.Fatal("expected the address stored")
	}
	if addr.TxCount != 4 {
		t.Errorf("expected 4 transactions, got %d", addr.TxCount)
	}
	if !addr.FirstSeen.Equal(base) {
		t.Errorf("expected first seen %v, got %v", base, addr.FirstSeen)
	}
	if addr.TotalSent.String() != "15" {
		t.Errorf("expected total sent 15, got %s", addr.TotalSent)
	}
	if addr.TotalReceived.String() != "5" {
		t.Errorf("expected total received 5, got %s", addr.TotalReceived)
	}

	cps, err := f.activity.Counterparties(context.Background(), domain.ChainIDEthereum, "0xuser")
	if err != nil {
		t.Fatalf("Counterparties failed: %v", err)
	}
	if len(cps) != 3 {
		t.Errorf("expected 3 distinct counterparties, got %v", cps)
	}
}

func TestIngestOne_Idempotent(t *testing.T) {
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	pages := []*source.HistoryPage{{
		Items: [][]byte{
			rawTx("0xt1", "0xuser", "0xa", "10", base),
			rawTx("0xt2", "0xuser", "0xa", "7", base.Add(time.Hour)),
		},
	}}
	f := newIngestFixture(t, pages)

	for run := 0; run < 2; run++ {
		err := f.ingestor.ingestOne(context.Background(), request{domain.ChainIDEthereum, "0xuser"})
		if err != nil {
			t.Fatalf("run %d failed: %v", run, err)
		}
	}

	stats, err := f.activity.Stats(context.Background(), domain.ChainIDEthereum, "0xuser")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TxCount != 2 {
		t.Errorf("replayed history inflated the stats: %d transactions", stats.TxCount)
	}
	if stats.TotalVolume.String() != "17" {
		t.Errorf("expected volume 17, got %s", stats.TotalVolume)
	}
}

func TestIngestOne_LockHeldSkips(t *testing.T) {
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	pages := []*source.HistoryPage{{
		Items: [][]byte{rawTx("0xt1", "0xuser", "0xa", "10", base)},
	}}
	f := newIngestFixture(t, pages)

	if _, err := f.locker.AcquireIngestLock(
		context.Background(), domain.ChainIDEthereum, "0xuser", time.Minute); err != nil {
		t.Fatalf("AcquireIngestLock failed: %v", err)
	}

	err := f.ingestor.ingestOne(context.Background(), request{domain.ChainIDEthereum, "0xuser"})
	if err != nil {
		t.Fatalf("a held lock must not be an error: %v", err)
	}
	if f.src.fetches != 0 {
		t.Errorf("expected no fetches under a held lock, got %d", f.src.fetches)
	}
}

func TestIngestOne_MalformedItemSkipped(t *testing.T) {
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	pages := []*source.HistoryPage{{
		Items: [][]byte{
			rawTx("0xt1", "0xuser", "0xa", "10", base),
			[]byte(`{"hash":""}`),
			rawTx("0xt2", "0xuser", "0xb", "4", base.Add(time.Hour)),
		},
	}}
	f := newIngestFixture(t, pages)

	err := f.ingestor.ingestOne(context.Background(), request{domain.ChainIDEthereum, "0xuser"})
	if err != nil {
		t.Fatalf("ingestOne failed: %v", err)
	}
	stats, err := f.activity.Stats(context.Background(), domain.ChainIDEthereum, "0xuser")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TxCount != 2 {
		t.Errorf("expected the 2 good transactions, got %d", stats.TxCount)
	}
}

func TestIngestOne_ActivityEvidenceAppendedOnce(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var items [][]byte
	for i := 0; i < 30; i++ {
		items = append(items, rawTx(
			fmt.Sprintf("0xt%d", i), "0xuser", fmt.Sprintf("0xd%d", i),
			"1", base.Add(time.Duration(i)*time.Hour)))
	}
	f := newIngestFixture(t, []*source.HistoryPage{{Items: items}})

	for run := 0; run < 2; run++ {
		err := f.ingestor.ingestOne(context.Background(), request{domain.ChainIDEthereum, "0xuser"})
		if err != nil {
			t.Fatalf("run %d failed: %v", run, err)
		}
	}

	rec, err := f.repStore.Get(context.Background(), domain.ChainIDEthereum, "0xuser")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(rec.Evidence) != 1 {
		t.Fatalf("expected exactly 1 activity evidence entry, got %d", len(rec.Evidence))
	}
	ev := rec.Evidence[0]
	if ev.Kind != domain.EvidenceTrust || ev.Source != "ingest:activity" {
		t.Errorf("unexpected evidence: %+v", ev)
	}
}

func TestRun_DrainsQueue(t *testing.T) {
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	pages := []*source.HistoryPage{{
		Items: [][]byte{
			rawTx("0xt1", "0xone", "0xa", "1", base),
			rawTx("0xt2", "0xtwo", "0xa", "2", base),
			rawTx("0xt3", "0xthree", "0xa", "3", base),
		},
	}}
	f := newIngestFixture(t, pages)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.ingestor.Run(ctx) }()

	addrs := []string{"0xone", "0xtwo", "0xthree"}
	for _, addr := range addrs {
		if !f.ingestor.Enqueue(domain.ChainIDEthereum, addr) {
			t.Fatalf("Enqueue dropped %s", addr)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		remaining := 0
		for _, addr := range addrs {
			got, err := f.activity.GetAddress(context.Background(), domain.ChainIDEthereum, addr)
			if err != nil {
				t.Fatalf("GetAddress failed: %v", err)
			}
			if got == nil {
				remaining++
			}
		}
		if remaining == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out with %d addresses not ingested", remaining)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
}

func TestEnqueue_DropsWhenFull(t *testing.T) {
	f := newIngestFixture(t, nil)
	f.ingestor.queue = make(chan request, 1)

	if !f.ingestor.Enqueue(domain.ChainIDEthereum, "0xone") {
		t.Fatal("first demand must fit")
	}
	if f.ingestor.Enqueue(domain.ChainIDEthereum, "0xtwo") {
		t.Error("expected the second demand dropped")
	}
}
