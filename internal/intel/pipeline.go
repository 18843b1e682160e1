// Package intel analyzes normalized transactions: call decoding, MEV
// detection, behavioral patterns, and balance-delta simulation. The pipeline
// stages are cached independently so invalidating one does not recompute the
// others.
package intel

import (
	"context"
	logger "log/slog"
	"time"

	"github.com/quarklabs/chainrisk/internal/cache"
	"github.com/quarklabs/chainrisk/internal/core/domain"
)

// Pipeline runs the intelligence stages over a transaction, caching each
// stage result separately.
type Pipeline struct {
	cache    *cache.Cache
	decoder  *Decoder
	mev      *MEVDetector
	patterns *PatternDetector
	stageTTL time.Duration
}

// NewPipeline creates the staged analysis pipeline.
func NewPipeline(
	c *cache.Cache,
	decoder *Decoder,
	mev *MEVDetector,
	patterns *PatternDetector,
	stageTTL time.Duration,
) *Pipeline {
	return &Pipeline{
		cache:    c,
		decoder:  decoder,
		mev:      mev,
		patterns: patterns,
		stageTTL: stageTTL,
	}
}

// Analyze produces the combined intel for a transaction. MEV detection is
// best-effort: when the block context is unavailable the stage stays uncached
// and the intel carries empty MEV flags. Pattern detection errors fail the
// analysis.
func (p *Pipeline) Analyze(
	ctx context.Context,
	tx *domain.NormalizedTransaction,
) (*domain.TxIntel, error) {
	intel := &domain.TxIntel{ChainID: tx.ChainID, TxHash: tx.TxHash}

	decoded, _, err := p.cache.GetOrCompute(ctx, p.stageKey(tx, "decode"), p.stageTTL,
		func(ctx context.Context) (any, error) {
			return p.decoder.Decode(tx), nil
		})
	if err != nil {
		return nil, err
	}
	intel.Decoded = decoded.(*domain.DecodedCall)

	mevVal, _, err := p.cache.GetOrCompute(ctx, p.stageKey(tx, "mev"), p.stageTTL,
		func(ctx context.Context) (any, error) {
			return p.mev.Detect(ctx, tx)
		})
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, err
	case err != nil:
		logger.Warn("mev stage unavailable",
			"chain_id", tx.ChainID,
			"tx_hash", tx.TxHash,
			"error", err)
	default:
		intel.MEV = mevVal.(domain.MEVFlags)
	}

	patVal, _, err := p.cache.GetOrCompute(ctx, p.stageKey(tx, "patterns"), p.stageTTL,
		func(ctx context.Context) (any, error) {
			return p.patterns.Detect(ctx, tx)
		})
	if err != nil {
		return nil, err
	}
	intel.Patterns = patVal.(domain.PatternFlags)

	return intel, nil
}

// Decode runs only the decoding stage, uncached. Pre-broadcast transactions
// have no stable hash to key a stage cache on.
func (p *Pipeline) Decode(tx *domain.NormalizedTransaction) *domain.DecodedCall {
	return p.decoder.Decode(tx)
}

// Invalidate drops all cached stages for a transaction.
func (p *Pipeline) Invalidate(chainID domain.ChainID, txHash string) {
	p.cache.InvalidatePrefix(cache.Key("stage", string(chainID), txHash) + ":")
}

func (p *Pipeline) stageKey(tx *domain.NormalizedTransaction, stage string) string {
	return cache.Key("stage", string(tx.ChainID), tx.TxHash, stage)
}
