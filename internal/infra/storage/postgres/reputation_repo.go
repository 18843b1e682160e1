package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quarklabs/chainrisk/internal/core/domain"
)

// ReputationRepo implements storage.ReputationRepository using PostgreSQL.
type ReputationRepo struct {
	db *DB
}

// NewReputationRepo creates a new PostgreSQL reputation repository.
func NewReputationRepo(db *DB) *ReputationRepo {
	return &ReputationRepo{db: db}
}

type reputationRow struct {
	ChainID    string    `db:"chain_id"`
	Address    string    `db:"address"`
	Class      string    `db:"class"`
	Confidence float64   `db:"confidence"`
	FirstSeen  time.Time `db:"first_seen"`
	UpdatedAt  time.Time `db:"updated_at"`
}

type evidenceRow struct {
	ID         string    `db:"id"`
	Kind       string    `db:"kind"`
	Source     string    `db:"source"`
	Weight     float64   `db:"weight"`
	Detail     string    `db:"detail"`
	ObservedAt time.Time `db:"observed_at"`
}

func (e *evidenceRow) toDomain() domain.Evidence {
	return domain.Evidence{
		ID:        e.ID,
		Kind:      domain.EvidenceKind(e.Kind),
		Source:    e.Source,
		Weight:    e.Weight,
		Detail:    e.Detail,
		Timestamp: e.ObservedAt,
	}
}

// Get retrieves a record with its full evidence set.
func (r *ReputationRepo) Get(
	ctx context.Context,
	chainID domain.ChainID,
	address string,
) (*domain.ReputationRecord, error) {
	query := `
		SELECT chain_id, address, class, confidence, first_seen, updated_at
		FROM reputation_records
		WHERE chain_id = $1 AND address = $2
	`

	var row reputationRow
	err := r.db.GetContext(ctx, &row, query, string(chainID), address)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reputation record: %w", err)
	}

	evQuery := `
		SELECT id, kind, source, weight, detail, observed_at
		FROM reputation_evidence
		WHERE chain_id = $1 AND address = $2
		ORDER BY observed_at, id
	`

	var evRows []evidenceRow
	if err := r.db.SelectContext(ctx, &evRows, evQuery, string(chainID), address); err != nil {
		return nil, fmt.Errorf("failed to get evidence: %w", err)
	}

	record := &domain.ReputationRecord{
		ChainID:    domain.ChainID(row.ChainID),
		Address:    row.Address,
		Class:      domain.ReputationClass(row.Class),
		Confidence: row.Confidence,
		FirstSeen:  row.FirstSeen,
		UpdatedAt:  row.UpdatedAt,
	}
	for _, ev := range evRows {
		record.Evidence = append(record.Evidence, ev.toDomain())
	}
	return record, nil
}

// Create inserts a fresh record. No-op if the record already exists.
func (r *ReputationRepo) Create(ctx context.Context, record *domain.ReputationRecord) error {
	query := `
		INSERT INTO reputation_records (
			chain_id, address, class, confidence, first_seen, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (chain_id, address) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		string(record.ChainID), record.Address, string(record.Class),
		record.Confidence, record.FirstSeen, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create reputation record: %w", err)
	}
	return nil
}

// AppendEvidence appends one evidence entry to an address's log.
func (r *ReputationRepo) AppendEvidence(
	ctx context.Context,
	chainID domain.ChainID,
	address string,
	ev domain.Evidence,
) error {
	query := `
		INSERT INTO reputation_evidence (
			id, chain_id, address, kind, source, weight, detail, observed_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		ev.ID, string(chainID), address, string(ev.Kind),
		ev.Source, ev.Weight, ev.Detail, ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append evidence: %w", err)
	}
	return nil
}

// UpdateFold stores the re-folded class, confidence and updated_at.
func (r *ReputationRepo) UpdateFold(ctx context.Context, record *domain.ReputationRecord) error {
	query := `
		UPDATE reputation_records
		SET class = $1, confidence = $2, updated_at = $3
		WHERE chain_id = $4 AND address = $5
	`

	_, err := r.db.ExecContext(ctx, query,
		string(record.Class), record.Confidence, record.UpdatedAt,
		string(record.ChainID), record.Address,
	)
	if err != nil {
		return fmt.Errorf("failed to update reputation record: %w", err)
	}
	return nil
}
