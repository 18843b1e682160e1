package control

import (
	"context"
	"fmt"
	logger "log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quarklabs/chainrisk/internal/cache"
	"github.com/quarklabs/chainrisk/internal/chain"
	"github.com/quarklabs/chainrisk/internal/core/domain"
	"github.com/quarklabs/chainrisk/internal/infra/storage"
	"github.com/quarklabs/chainrisk/internal/source"
)

// chainState serves the intel stages' view of chain state: live balances
// from the node sources, contract-ness from stored address metadata, and
// normalized block neighborhoods for MEV detection.
type chainState struct {
	sources  map[domain.ChainID]source.NodeSource
	registry *chain.Registry
	activity storage.ActivityRepository
	cache    *cache.Cache
	blockTTL time.Duration
}

func newChainState(
	sources map[domain.ChainID]source.NodeSource,
	registry *chain.Registry,
	activity storage.ActivityRepository,
	c *cache.Cache,
	blockTTL time.Duration,
) *chainState {
	return &chainState{
		sources:  sources,
		registry: registry,
		activity: activity,
		cache:    c,
		blockTTL: blockTTL,
	}
}

func (s *chainState) sourceFor(chainID domain.ChainID) (source.NodeSource, error) {
	src, ok := s.sources[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedChain, chainID)
	}
	return src, nil
}

// Balance implements intel.StateSource.
func (s *chainState) Balance(
	ctx context.Context,
	chainID domain.ChainID,
	address, asset string,
) (decimal.Decimal, error) {
	src, err := s.sourceFor(chainID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return src.FetchBalance(ctx, address, asset)
}

// IsContract implements intel.StateSource from stored address metadata.
// Unknown addresses pass: only an address we know to be an externally owned
// account fails a contract-call check.
func (s *chainState) IsContract(
	ctx context.Context,
	chainID domain.ChainID,
	address string,
) (bool, error) {
	meta, err := s.activity.GetAddress(ctx, chainID, address)
	if err != nil {
		return false, fmt.Errorf("failed to load address metadata: %w", err)
	}
	if meta == nil {
		return true, nil
	}
	return meta.IsContract, nil
}

// BlockTransactions implements intel.BlockContext. The normalized block is
// cached whole: sandwich and front-run checks over sibling transactions hit
// the same block repeatedly.
func (s *chainState) BlockTransactions(
	ctx context.Context,
	chainID domain.ChainID,
	height uint64,
) ([]*domain.NormalizedTransaction, error) {
	src, err := s.sourceFor(chainID)
	if err != nil {
		return nil, err
	}

	key := cache.Key("block", string(chainID), strconv.FormatUint(height, 10))
	val, _, err := s.cache.GetOrCompute(ctx, key, s.blockTTL,
		func(ctx context.Context) (any, error) {
			raws, err := src.FetchBlockTransactions(ctx, height)
			if err != nil {
				return nil, err
			}
			txs := make([]*domain.NormalizedTransaction, 0, len(raws))
			for _, raw := range raws {
				tx, err := s.registry.NormalizeTransaction(chainID, raw)
				if err != nil {
					// A sibling we cannot parse shrinks the
					// neighborhood, it does not fail it.
					logger.Warn("skipping malformed block transaction",
						"chain_id", chainID, "height", height, "error", err)
					continue
				}
				txs = append(txs, tx)
			}
			return txs, nil
		})
	if err != nil {
		return nil, err
	}
	return val.([]*domain.NormalizedTransaction), nil
}
