package storage

import (
	"context"
	"time"

	"github.com/quarklabs/chainrisk/internal/core/domain"
)

// ReputationRepository handles reputation records and their evidence logs.
// Evidence rows are append-only; the folded record is a cache over them.
type ReputationRepository interface {
	// Get retrieves a record with its full evidence set. Returns nil when
	// the address has never been seen.
	Get(ctx context.Context, chainID domain.ChainID, address string) (*domain.ReputationRecord, error)

	// Create inserts a fresh record. No-op if the record already exists.
	Create(ctx context.Context, record *domain.ReputationRecord) error

	// AppendEvidence appends one evidence entry to an address's log.
	AppendEvidence(
		ctx context.Context,
		chainID domain.ChainID,
		address string,
		ev domain.Evidence,
	) error

	// UpdateFold stores the re-folded class, confidence and updated_at.
	UpdateFold(ctx context.Context, record *domain.ReputationRecord) error
}

// RiskScoreRepository handles scored assessments. Saves always insert;
// recomputations under a new model version sit alongside older rows.
type RiskScoreRepository interface {
	// Save appends a computed score.
	Save(ctx context.Context, score *domain.RiskScore) error

	// Latest retrieves the most recently computed score for a transaction.
	// Returns nil when none has been stored.
	Latest(ctx context.Context, chainID domain.ChainID, txHash string) (*domain.RiskScore, error)

	// History retrieves all stored scores for a transaction, newest first.
	History(ctx context.Context, chainID domain.ChainID, txHash string) ([]*domain.RiskScore, error)
}

// TraceRepository handles the cross-chain correlation graph. Edges are
// append-only; confidence may only ever be revised downward.
type TraceRepository interface {
	// AppendEdge inserts a correlation edge. Duplicate IDs are ignored.
	AppendEdge(ctx context.Context, edge *domain.TraceEdge) error

	// ReviseConfidence lowers an edge's confidence. Attempts to raise it
	// are rejected.
	ReviseConfidence(ctx context.Context, edgeID string, confidence float64) error

	// Neighbors returns all edges touching the given node, whether the
	// node is the from or the to side.
	Neighbors(ctx context.Context, node domain.ChainAddress) ([]*domain.TraceEdge, error)

	// RecordSighting stores an entity sighting.
	RecordSighting(ctx context.Context, s *domain.EntitySighting) error

	// SightingsForEntity returns sightings of a labeled entity inside
	// [from, to].
	SightingsForEntity(
		ctx context.Context,
		entity string,
		from, to time.Time,
	) ([]*domain.EntitySighting, error)
}

// ActivityRepository handles observed address activity: address metadata,
// the transfer log, and the aggregates scoring and pattern detection read.
type ActivityRepository interface {
	// SaveAddress upserts address metadata observed during ingest.
	SaveAddress(ctx context.Context, addr *domain.NormalizedAddress) error

	// GetAddress retrieves address metadata. Returns nil when unseen.
	GetAddress(ctx context.Context, chainID domain.ChainID, address string) (*domain.NormalizedAddress, error)

	// SaveTransfers records observed transfers. Replays of the same
	// transfer are ignored.
	SaveTransfers(ctx context.Context, transfers []*domain.TransferRecord) error

	// Stats aggregates an address's transfer history. Returns nil when
	// the address has no recorded activity.
	Stats(ctx context.Context, chainID domain.ChainID, address string) (*domain.AddressStats, error)

	// RecentTransfers returns transfers touching an address observed at
	// or after since, oldest first.
	RecentTransfers(
		ctx context.Context,
		chainID domain.ChainID,
		address string,
		since time.Time,
	) ([]*domain.TransferRecord, error)

	// Counterparties returns the distinct counterparties an address has
	// transacted with.
	Counterparties(ctx context.Context, chainID domain.ChainID, address string) ([]string, error)
}
