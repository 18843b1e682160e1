package source

import (
	"context"
	"fmt"

	logger "log/slog"

	"github.com/shopspring/decimal"

	"github.com/quarklabs/chainrisk/internal/core/domain"
)

// Failover tries multiple node sources in order, moving to the next on any
// non-fatal failure. It implements NodeSource itself.
type Failover struct {
	chainID domain.ChainID
	sources []NodeSource
}

func NewFailover(chainID domain.ChainID, sources ...NodeSource) *Failover {
	return &Failover{chainID: chainID, sources: sources}
}

func (f *Failover) ChainID() domain.ChainID { return f.chainID }
func (f *Failover) Name() string            { return "failover" }

func (f *Failover) each(op string, fn func(NodeSource) error) error {
	if len(f.sources) == 0 {
		return fmt.Errorf("no sources configured for chain %s", f.chainID)
	}

	var lastErr error
	for _, s := range f.sources {
		err := fn(s)
		if err == nil {
			return nil
		}
		lastErr = err
		if ClassifyError(err) == ActionFatal {
			return err
		}
		logger.Warn("node source failed, trying next",
			"chain", f.chainID, "op", op, "provider", s.Name(), "error", err)
	}
	return fmt.Errorf("all sources failed: %w", lastErr)
}

func (f *Failover) FetchRawTransaction(ctx context.Context, txHash string) ([]byte, error) {
	var raw []byte
	err := f.each("fetch_transaction", func(s NodeSource) error {
		var err error
		raw, err = s.FetchRawTransaction(ctx, txHash)
		return err
	})
	return raw, err
}

func (f *Failover) FetchRawAddressHistory(
	ctx context.Context,
	address, cursor string,
	limit int,
) (*HistoryPage, error) {
	var page *HistoryPage
	err := f.each("fetch_history", func(s NodeSource) error {
		var err error
		page, err = s.FetchRawAddressHistory(ctx, address, cursor, limit)
		return err
	})
	return page, err
}

func (f *Failover) FetchBalance(
	ctx context.Context,
	address, asset string,
) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := f.each("fetch_balance", func(s NodeSource) error {
		var err error
		bal, err = s.FetchBalance(ctx, address, asset)
		return err
	})
	return bal, err
}

func (f *Failover) FetchBlockTransactions(ctx context.Context, height uint64) ([][]byte, error) {
	var txs [][]byte
	err := f.each("fetch_block", func(s NodeSource) error {
		var err error
		txs, err = s.FetchBlockTransactions(ctx, height)
		return err
	})
	return txs, err
}

// Health reports healthy if any underlying source is healthy.
func (f *Failover) Health(ctx context.Context) error {
	return f.each("health", func(s NodeSource) error {
		return s.Health(ctx)
	})
}
