// Package ingest pulls address histories from node sources on demand and
// folds them into stored activity: address aggregates, the transfer log the
// pattern detectors read, and activity-based reputation evidence.
package ingest

import (
	"context"
	"fmt"
	"time"

	logger "log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/quarklabs/chainrisk/internal/chain"
	"github.com/quarklabs/chainrisk/internal/core/config"
	"github.com/quarklabs/chainrisk/internal/core/domain"
	"github.com/quarklabs/chainrisk/internal/infra/storage"
	"github.com/quarklabs/chainrisk/internal/metrics"
	"github.com/quarklabs/chainrisk/internal/reputation"
	"github.com/quarklabs/chainrisk/internal/source"
)

const (
	// lockTTL bounds how long a crashed worker can hold an address claim.
	lockTTL = 5 * time.Minute

	// maxPagesPerRun bounds the work a single ingest run does for one
	// address. The next demand picks up where the dedupe left off.
	maxPagesPerRun = 50

	// activityTrustTxCount is the history size at which an address earns
	// one small trust evidence entry.
	activityTrustTxCount = 25

	activityTrustWeight = 0.1
	activitySource      = "ingest:activity"
)

// Locker claims an address for ingestion so concurrent replicas do not pull
// the same history twice.
type Locker interface {
	AcquireIngestLock(ctx context.Context, chainID domain.ChainID, address string, ttl time.Duration) (bool, error)
	ReleaseIngestLock(ctx context.Context, chainID domain.ChainID, address string) error
}

type request struct {
	chainID domain.ChainID
	address string
}

// Ingestor drains a demand queue of (chain, address) pairs with a bounded
// worker pool. Runs are idempotent: the transfer log ignores replays, the
// address upsert merges, and activity evidence is appended at most once.
type Ingestor struct {
	cfg        config.IngestConfig
	sources    map[domain.ChainID]source.NodeSource
	registry   *chain.Registry
	activity   storage.ActivityRepository
	reputation *reputation.Store
	locker     Locker
	retry      source.Policy
	queue      chan request
}

// NewIngestor creates an ingestor. The queue holds cfg.QueueSize pending
// demands; beyond that Enqueue drops.
func NewIngestor(
	cfg config.IngestConfig,
	sources map[domain.ChainID]source.NodeSource,
	registry *chain.Registry,
	activity storage.ActivityRepository,
	repStore *reputation.Store,
	locker Locker,
) *Ingestor {
	return &Ingestor{
		cfg:        cfg,
		sources:    sources,
		registry:   registry,
		activity:   activity,
		reputation: repStore,
		locker:     locker,
		retry:      source.DefaultPolicy,
		queue:      make(chan request, cfg.QueueSize),
	}
}

// Enqueue demands ingestion of an address. Non-blocking; reports false when
// the queue is full and the demand was dropped.
func (i *Ingestor) Enqueue(chainID domain.ChainID, address string) bool {
	select {
	case i.queue <- request{chainID: chainID, address: address}:
		return true
	default:
		logger.Debug("ingest queue full, demand dropped",
			"chain_id", chainID, "address", address)
		return false
	}
}

// Run drains the queue until ctx is canceled. Worker failures are logged,
// not fatal; one poisoned address must not stop the pool.
func (i *Ingestor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	workers := i.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	g.SetLimit(workers)

	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		case req := <-i.queue:
			g.Go(func() error {
				if err := i.ingestOne(ctx, req); err != nil {
					logger.Warn("ingest failed",
						"chain_id", req.chainID,
						"address", req.address,
						"error", err)
				}
				return nil
			})
		}
	}
}

func (i *Ingestor) ingestOne(ctx context.Context, req request) error {
	src, ok := i.sources[req.chainID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnsupportedChain, req.chainID)
	}

	locked, err := i.locker.AcquireIngestLock(ctx, req.chainID, req.address, lockTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire ingest lock: %w", err)
	}
	if !locked {
		logger.Debug("address already claimed by another worker",
			"chain_id", req.chainID, "address", req.address)
		return nil
	}
	// The lock TTL covers a release lost to cancellation.
	defer func() {
		if err := i.locker.ReleaseIngestLock(ctx, req.chainID, req.address); err != nil {
			logger.Warn("failed to release ingest lock",
				"chain_id", req.chainID, "address", req.address, "error", err)
		}
	}()

	fold := newHistoryFold(req.chainID, req.address)
	cursor := ""
	for page := 0; page < maxPagesPerRun; page++ {
		var history *source.HistoryPage
		err := i.retry.Do(ctx, "ingest_history", func() error {
			var err error
			history, err = src.FetchRawAddressHistory(ctx, req.address, cursor, i.cfg.PageLimit)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to fetch history page: %w", err)
		}

		var transfers []*domain.TransferRecord
		for _, raw := range history.Items {
			tx, err := i.registry.NormalizeTransaction(req.chainID, raw)
			if err != nil {
				// One bad payload must not sink the run.
				logger.Warn("skipping malformed history item",
					"chain_id", req.chainID, "address", req.address, "error", err)
				continue
			}
			transfers = append(transfers, fold.observe(tx)...)
		}
		if len(transfers) > 0 {
			if err := i.activity.SaveTransfers(ctx, transfers); err != nil {
				return fmt.Errorf("failed to save transfers: %w", err)
			}
		}

		cursor = history.NextCursor
		if cursor == "" {
			break
		}
	}

	if fold.txCount > 0 {
		if err := i.activity.SaveAddress(ctx, fold.address()); err != nil {
			return fmt.Errorf("failed to save address: %w", err)
		}
	}
	if err := i.appendActivityEvidence(ctx, req, fold); err != nil {
		return err
	}

	metrics.IngestedAddresses.WithLabelValues(string(req.chainID)).Inc()
	logger.Info("address history ingested",
		"chain_id", req.chainID,
		"address", req.address,
		"tx_count", fold.txCount)
	return nil
}

// appendActivityEvidence grants one small trust entry once an address has a
// substantial ingested history. The entry is appended at most once per
// address; re-ingestion finds the prior entry and skips.
func (i *Ingestor) appendActivityEvidence(ctx context.Context, req request, fold *historyFold) error {
	if fold.txCount < activityTrustTxCount {
		return nil
	}

	rec, err := i.reputation.Get(ctx, req.chainID, req.address)
	if err != nil {
		return fmt.Errorf("failed to load reputation: %w", err)
	}
	for _, ev := range rec.Evidence {
		if ev.Source == activitySource {
			return nil
		}
	}

	_, err = i.reputation.Append(ctx, req.chainID, req.address, domain.Evidence{
		ID:        uuid.NewSHA1(uuid.NameSpaceOID, []byte(activitySource+":"+string(req.chainID)+":"+req.address)).String(),
		Kind:      domain.EvidenceTrust,
		Source:    activitySource,
		Weight:    activityTrustWeight,
		Detail:    fmt.Sprintf("%d transactions of sustained history", fold.txCount),
		Timestamp: fold.firstSeen,
	})
	if err != nil {
		return fmt.Errorf("failed to append activity evidence: %w", err)
	}
	return nil
}

// historyFold accumulates one address's view of its history as transactions
// stream through.
type historyFold struct {
	chainID       domain.ChainID
	addr          string
	firstSeen     time.Time
	txCount       uint64
	totalReceived decimal.Decimal
	totalSent     decimal.Decimal
}

func newHistoryFold(chainID domain.ChainID, address string) *historyFold {
	return &historyFold{chainID: chainID, addr: address}
}

// observe folds one transaction and returns the transfer records it
// contributes. Outputs back to a spending address are change, not income.
func (f *historyFold) observe(tx *domain.NormalizedTransaction) []*domain.TransferRecord {
	spender := false
	for _, in := range tx.Inputs {
		if in.Address == f.addr {
			spender = true
			break
		}
	}

	var records []*domain.TransferRecord
	if spender {
		for _, out := range tx.Outputs {
			if out.Address == f.addr || out.Address == "" {
				continue
			}
			f.totalSent = f.totalSent.Add(out.Amount)
			records = append(records, &domain.TransferRecord{
				ChainID:      f.chainID,
				Address:      f.addr,
				Counterparty: out.Address,
				Direction:    domain.DirectionOut,
				Amount:       out.Amount,
				Asset:        out.Asset,
				TxHash:       tx.TxHash,
				Timestamp:    tx.Timestamp,
			})
		}
	} else {
		funder := ""
		for _, in := range tx.Inputs {
			if in.Address != "" {
				funder = in.Address
				break
			}
		}
		for _, out := range tx.Outputs {
			if out.Address != f.addr {
				continue
			}
			f.totalReceived = f.totalReceived.Add(out.Amount)
			records = append(records, &domain.TransferRecord{
				ChainID:      f.chainID,
				Address:      f.addr,
				Counterparty: funder,
				Direction:    domain.DirectionIn,
				Amount:       out.Amount,
				Asset:        out.Asset,
				TxHash:       tx.TxHash,
				Timestamp:    tx.Timestamp,
			})
		}
	}

	if len(records) == 0 {
		return nil
	}
	f.txCount++
	if f.firstSeen.IsZero() || tx.Timestamp.Before(f.firstSeen) {
		f.firstSeen = tx.Timestamp
	}
	return records
}

func (f *historyFold) address() *domain.NormalizedAddress {
	return &domain.NormalizedAddress{
		ChainID:       f.chainID,
		Address:       f.addr,
		FirstSeen:     f.firstSeen,
		TxCount:       f.txCount,
		TotalReceived: f.totalReceived,
		TotalSent:     f.totalSent,
	}
}
