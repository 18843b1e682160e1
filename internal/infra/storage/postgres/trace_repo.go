package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/quarklabs/chainrisk/internal/core/domain"
)

// TraceRepo implements storage.TraceRepository using PostgreSQL.
type TraceRepo struct {
	db *DB
}

// NewTraceRepo creates a new PostgreSQL trace repository.
func NewTraceRepo(db *DB) *TraceRepo {
	return &TraceRepo{db: db}
}

type edgeRow struct {
	ID          string    `db:"id"`
	Kind        string    `db:"kind"`
	FromChain   string    `db:"from_chain"`
	FromAddress string    `db:"from_address"`
	ToChain     string    `db:"to_chain"`
	ToAddress   string    `db:"to_address"`
	Directed    bool      `db:"directed"`
	Confidence  float64   `db:"confidence"`
	TxHash      string    `db:"tx_hash"`
	Entity      string    `db:"entity"`
	ObservedAt  time.Time `db:"observed_at"`
}

func (e *edgeRow) toDomain() *domain.TraceEdge {
	return &domain.TraceEdge{
		ID:   e.ID,
		Kind: domain.EdgeKind(e.Kind),
		From: domain.ChainAddress{
			ChainID: domain.ChainID(e.FromChain),
			Address: e.FromAddress,
		},
		To: domain.ChainAddress{
			ChainID: domain.ChainID(e.ToChain),
			Address: e.ToAddress,
		},
		Directed:   e.Directed,
		Confidence: e.Confidence,
		TxHash:     e.TxHash,
		Entity:     e.Entity,
		ObservedAt: e.ObservedAt,
	}
}

// AppendEdge inserts a correlation edge. Duplicate IDs are ignored.
func (r *TraceRepo) AppendEdge(ctx context.Context, edge *domain.TraceEdge) error {
	query := `
		INSERT INTO trace_edges (
			id, kind, from_chain, from_address, to_chain, to_address,
			directed, confidence, tx_hash, entity, observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		edge.ID, string(edge.Kind),
		string(edge.From.ChainID), edge.From.Address,
		string(edge.To.ChainID), edge.To.Address,
		edge.Directed, edge.Confidence, edge.TxHash, edge.Entity, edge.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append trace edge: %w", err)
	}
	return nil
}

// ReviseConfidence lowers an edge's confidence. Raising is rejected.
func (r *TraceRepo) ReviseConfidence(ctx context.Context, edgeID string, confidence float64) error {
	query := `
		UPDATE trace_edges
		SET confidence = $1
		WHERE id = $2 AND confidence > $1
	`

	res, err := r.db.ExecContext(ctx, query, confidence, edgeID)
	if err != nil {
		return fmt.Errorf("failed to revise edge confidence: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("edge %s: confidence can only be revised downward", edgeID)
	}
	return nil
}

// Neighbors returns all edges touching the given node.
func (r *TraceRepo) Neighbors(
	ctx context.Context,
	node domain.ChainAddress,
) ([]*domain.TraceEdge, error) {
	query := `
		SELECT id, kind, from_chain, from_address, to_chain, to_address,
		       directed, confidence, tx_hash, entity, observed_at
		FROM trace_edges
		WHERE (from_chain = $1 AND from_address = $2)
		   OR (to_chain = $1 AND to_address = $2)
		ORDER BY observed_at, id
	`

	var rows []edgeRow
	err := r.db.SelectContext(ctx, &rows, query, string(node.ChainID), node.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to get trace edges: %w", err)
	}

	var edges []*domain.TraceEdge
	for i := range rows {
		edges = append(edges, rows[i].toDomain())
	}
	return edges, nil
}

// RecordSighting stores an entity sighting.
func (r *TraceRepo) RecordSighting(ctx context.Context, s *domain.EntitySighting) error {
	query := `
		INSERT INTO entity_sightings (entity, chain_id, address, tx_hash, observed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entity, chain_id, address, tx_hash) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		s.Entity, string(s.Node.ChainID), s.Node.Address, s.TxHash, s.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record sighting: %w", err)
	}
	return nil
}

type sightingRow struct {
	Entity     string    `db:"entity"`
	ChainID    string    `db:"chain_id"`
	Address    string    `db:"address"`
	TxHash     string    `db:"tx_hash"`
	ObservedAt time.Time `db:"observed_at"`
}

// SightingsForEntity returns sightings of a labeled entity inside [from, to].
func (r *TraceRepo) SightingsForEntity(
	ctx context.Context,
	entity string,
	from, to time.Time,
) ([]*domain.EntitySighting, error) {
	query := `
		SELECT entity, chain_id, address, tx_hash, observed_at
		FROM entity_sightings
		WHERE entity = $1 AND observed_at >= $2 AND observed_at <= $3
		ORDER BY observed_at, id
	`

	var rows []sightingRow
	if err := r.db.SelectContext(ctx, &rows, query, entity, from, to); err != nil {
		return nil, fmt.Errorf("failed to get sightings: %w", err)
	}

	var sightings []*domain.EntitySighting
	for _, row := range rows {
		sightings = append(sightings, &domain.EntitySighting{
			Entity: row.Entity,
			Node: domain.ChainAddress{
				ChainID: domain.ChainID(row.ChainID),
				Address: row.Address,
			},
			TxHash:     row.TxHash,
			ObservedAt: row.ObservedAt,
		})
	}
	return sightings, nil
}
