package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/quarklabs/chainrisk/internal/core/domain"
)

// RiskRepo implements storage.RiskScoreRepository using PostgreSQL.
type RiskRepo struct {
	db *DB
}

// NewRiskRepo creates a new PostgreSQL risk score repository.
func NewRiskRepo(db *DB) *RiskRepo {
	return &RiskRepo{db: db}
}

type riskRow struct {
	ChainID      string         `db:"chain_id"`
	TxHash       string         `db:"tx_hash"`
	Score        int            `db:"score"`
	Factors      []byte         `db:"factors"`
	Flags        pq.StringArray `db:"flags"`
	ModelVersion string         `db:"model_version"`
	ComputedAt   time.Time      `db:"computed_at"`
}

func (r *riskRow) toDomain() (*domain.RiskScore, error) {
	score := &domain.RiskScore{
		ChainID:      domain.ChainID(r.ChainID),
		TxHash:       r.TxHash,
		Score:        r.Score,
		Flags:        []string(r.Flags),
		ModelVersion: r.ModelVersion,
		ComputedAt:   r.ComputedAt,
	}
	if len(r.Factors) > 0 {
		if err := json.Unmarshal(r.Factors, &score.Factors); err != nil {
			return nil, fmt.Errorf("failed to decode factors: %w", err)
		}
	}
	return score, nil
}

// Save appends a computed score.
func (r *RiskRepo) Save(ctx context.Context, score *domain.RiskScore) error {
	factors, err := json.Marshal(score.Factors)
	if err != nil {
		return fmt.Errorf("failed to encode factors: %w", err)
	}

	query := `
		INSERT INTO risk_scores (
			chain_id, tx_hash, score, factors, flags, model_version, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.ExecContext(ctx, query,
		string(score.ChainID), score.TxHash, score.Score,
		factors, pq.Array(score.Flags), score.ModelVersion, score.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save risk score: %w", err)
	}
	return nil
}

// Latest retrieves the most recently computed score for a transaction.
func (r *RiskRepo) Latest(
	ctx context.Context,
	chainID domain.ChainID,
	txHash string,
) (*domain.RiskScore, error) {
	query := `
		SELECT chain_id, tx_hash, score, factors, flags, model_version, computed_at
		FROM risk_scores
		WHERE chain_id = $1 AND tx_hash = $2
		ORDER BY computed_at DESC, id DESC
		LIMIT 1
	`

	var row riskRow
	err := r.db.GetContext(ctx, &row, query, string(chainID), txHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get risk score: %w", err)
	}
	return row.toDomain()
}

// History retrieves all stored scores for a transaction, newest first.
func (r *RiskRepo) History(
	ctx context.Context,
	chainID domain.ChainID,
	txHash string,
) ([]*domain.RiskScore, error) {
	query := `
		SELECT chain_id, tx_hash, score, factors, flags, model_version, computed_at
		FROM risk_scores
		WHERE chain_id = $1 AND tx_hash = $2
		ORDER BY computed_at DESC, id DESC
	`

	var rows []riskRow
	if err := r.db.SelectContext(ctx, &rows, query, string(chainID), txHash); err != nil {
		return nil, fmt.Errorf("failed to get risk scores: %w", err)
	}

	var scores []*domain.RiskScore
	for i := range rows {
		score, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		scores = append(scores, score)
	}
	return scores, nil
}
