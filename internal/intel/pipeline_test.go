package intel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quarklabs/chainrisk/internal/cache"
	"github.com/quarklabs/chainrisk/internal/core/domain"
	"github.com/quarklabs/chainrisk/internal/infra/storage/memory"
)

type countingActivity struct {
	inner       ActivityReader
	recentCalls int
}

func (c *countingActivity) RecentTransfers(
	ctx context.Context,
	chainID domain.ChainID,
	address string,
	since time.Time,
) ([]*domain.TransferRecord, error) {
	c.recentCalls++
	return c.inner.RecentTransfers(ctx, chainID, address, since)
}

func (c *countingActivity) Counterparties(
	ctx context.Context,
	chainID domain.ChainID,
	address string,
) ([]string, error) {
	return c.inner.Counterparties(ctx, chainID, address)
}

type failingActivity struct{}

func (failingActivity) RecentTransfers(
	context.Context,
	domain.ChainID,
	string,
	time.Time,
) ([]*domain.TransferRecord, error) {
	return nil, errors.New("db down")
}

func (failingActivity) Counterparties(context.Context, domain.ChainID, string) ([]string, error) {
	return nil, errors.New("db down")
}

func newPipelineFixture(t *testing.T, activity ActivityReader) (*Pipeline, *fakeBlocks) {
	t.Helper()
	blocks := &fakeBlocks{}
	patterns, err := NewPatternDetector(patternsConfig(), activity)
	if err != nil {
		t.Fatalf("NewPatternDetector failed: %v", err)
	}
	p := NewPipeline(
		cache.New(time.Minute, time.Minute),
		NewDecoder(),
		NewMEVDetector(blocks),
		patterns,
		time.Minute,
	)
	return p, blocks
}

func TestAnalyze_CachesStages(t *testing.T) {
	activity := &countingActivity{inner: memory.NewActivityRepo(memory.NewMemoryStorage())}
	p, blocks := newPipelineFixture(t, activity)

	tx := spendTx("0xcur", "0xsender", "0xdest", "800", time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC))
	tx.CallData = "0xa9059cbb" + word("d8da6bf26964af9d7eed9e03e53415d37aa96045") + word("f4240")

	first, err := p.Analyze(context.Background(), tx)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if first.Decoded == nil || first.Decoded.Method != "transfer(address,uint256)" {
		t.Errorf("unexpected decode result: %+v", first.Decoded)
	}

	second, err := p.Analyze(context.Background(), tx)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if second.Decoded == nil || second.Decoded.Method != first.Decoded.Method {
		t.Errorf("cached decode differs: %+v", second.Decoded)
	}
	if activity.recentCalls != 1 {
		t.Errorf("expected 1 pattern computation, got %d", activity.recentCalls)
	}
	if blocks.calls != 1 {
		t.Errorf("expected 1 block lookup, got %d", blocks.calls)
	}
}

func TestAnalyze_MEVFailureNotCached(t *testing.T) {
	activity := &countingActivity{inner: memory.NewActivityRepo(memory.NewMemoryStorage())}
	p, blocks := newPipelineFixture(t, activity)
	blocks.err = errors.New("node down")

	tx := spendTx("0xcur", "0xsender", "0xdest", "800", time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC))

	intel, err := p.Analyze(context.Background(), tx)
	if err != nil {
		t.Fatalf("Analyze must degrade, not fail: %v", err)
	}
	if intel.MEV.Sandwich || intel.MEV.FrontRun {
		t.Errorf("expected clean MEV flags, got %+v", intel.MEV)
	}

	// A failed stage stays uncached so the next analysis retries it.
	blocks.err = nil
	if _, err := p.Analyze(context.Background(), tx); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if blocks.calls != 2 {
		t.Errorf("expected the mev stage recomputed, got %d lookups", blocks.calls)
	}
	if activity.recentCalls != 1 {
		t.Errorf("patterns stage recomputed alongside mev: %d calls", activity.recentCalls)
	}
}

func TestAnalyze_PatternErrorFails(t *testing.T) {
	p, _ := newPipelineFixture(t, failingActivity{})

	tx := spendTx("0xcur", "0xsender", "0xdest", "800", time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC))
	if _, err := p.Analyze(context.Background(), tx); err == nil {
		t.Fatal("expected pattern stage error to propagate")
	}
}

func TestInvalidate_DropsStages(t *testing.T) {
	activity := &countingActivity{inner: memory.NewActivityRepo(memory.NewMemoryStorage())}
	p, blocks := newPipelineFixture(t, activity)

	tx := spendTx("0xcur", "0xsender", "0xdest", "800", time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC))
	if _, err := p.Analyze(context.Background(), tx); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	p.Invalidate(tx.ChainID, tx.TxHash)

	if _, err := p.Analyze(context.Background(), tx); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if activity.recentCalls != 2 {
		t.Errorf("expected stages recomputed after invalidation, got %d pattern calls", activity.recentCalls)
	}
	if blocks.calls != 2 {
		t.Errorf("expected stages recomputed after invalidation, got %d block lookups", blocks.calls)
	}
}
