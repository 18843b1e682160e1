package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quarklabs/chainrisk/internal/core/domain"
)

// ActivityRepo implements storage.ActivityRepository using PostgreSQL.
type ActivityRepo struct {
	db *DB
}

// NewActivityRepo creates a new PostgreSQL activity repository.
func NewActivityRepo(db *DB) *ActivityRepo {
	return &ActivityRepo{db: db}
}

// SaveAddress upserts address metadata observed during ingest.
func (r *ActivityRepo) SaveAddress(ctx context.Context, addr *domain.NormalizedAddress) error {
	query := `
		INSERT INTO addresses (
			chain_id, address, first_seen, tx_count, total_received, total_sent,
			is_contract, verified, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (chain_id, address) DO UPDATE SET
			first_seen = LEAST(addresses.first_seen, EXCLUDED.first_seen),
			tx_count = GREATEST(addresses.tx_count, EXCLUDED.tx_count),
			total_received = EXCLUDED.total_received,
			total_sent = EXCLUDED.total_sent,
			is_contract = addresses.is_contract OR EXCLUDED.is_contract,
			verified = addresses.verified OR EXCLUDED.verified,
			updated_at = NOW()
	`

	_, err := r.db.ExecContext(ctx, query,
		string(addr.ChainID), addr.Address, addr.FirstSeen,
		addr.TxCount, addr.TotalReceived, addr.TotalSent,
		addr.IsContract, addr.Verified,
	)
	if err != nil {
		return fmt.Errorf("failed to save address: %w", err)
	}
	return nil
}

type addressRow struct {
	ChainID       string          `db:"chain_id"`
	Address       string          `db:"address"`
	FirstSeen     time.Time       `db:"first_seen"`
	TxCount       uint64          `db:"tx_count"`
	TotalReceived decimal.Decimal `db:"total_received"`
	TotalSent     decimal.Decimal `db:"total_sent"`
	IsContract    bool            `db:"is_contract"`
	Verified      bool            `db:"verified"`
}

// GetAddress retrieves address metadata.
func (r *ActivityRepo) GetAddress(
	ctx context.Context,
	chainID domain.ChainID,
	address string,
) (*domain.NormalizedAddress, error) {
	query := `
		SELECT chain_id, address, first_seen, tx_count, total_received, total_sent,
		       is_contract, verified
		FROM addresses
		WHERE chain_id = $1 AND address = $2
	`

	var row addressRow
	err := r.db.GetContext(ctx, &row, query, string(chainID), address)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get address: %w", err)
	}

	return &domain.NormalizedAddress{
		ChainID:       domain.ChainID(row.ChainID),
		Address:       row.Address,
		FirstSeen:     row.FirstSeen,
		TxCount:       row.TxCount,
		TotalReceived: row.TotalReceived,
		TotalSent:     row.TotalSent,
		IsContract:    row.IsContract,
		Verified:      row.Verified,
	}, nil
}

// SaveTransfers records observed transfers. Replays are ignored.
func (r *ActivityRepo) SaveTransfers(ctx context.Context, transfers []*domain.TransferRecord) error {
	if len(transfers) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO transfers (
			chain_id, address, counterparty, direction, amount, asset, tx_hash, observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (chain_id, tx_hash, address, counterparty, direction, asset) DO NOTHING
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range transfers {
		_, err := stmt.ExecContext(ctx,
			string(t.ChainID), t.Address, t.Counterparty, string(t.Direction),
			t.Amount, t.Asset, t.TxHash, t.Timestamp,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

type statsRow struct {
	TxCount     uint64          `db:"tx_count"`
	TotalVolume decimal.Decimal `db:"total_volume"`
	MaxValue    decimal.Decimal `db:"max_value"`
	ValueP95    float64         `db:"value_p95"`
	FirstSeen   sql.NullTime    `db:"first_seen"`
}

// Stats aggregates an address's transfer history.
func (r *ActivityRepo) Stats(
	ctx context.Context,
	chainID domain.ChainID,
	address string,
) (*domain.AddressStats, error) {
	query := `
		SELECT
			COUNT(DISTINCT tx_hash) AS tx_count,
			COALESCE(SUM(amount), 0) AS total_volume,
			COALESCE(MAX(amount), 0) AS max_value,
			COALESCE(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY amount::double precision), 0) AS value_p95,
			MIN(observed_at) AS first_seen
		FROM transfers
		WHERE chain_id = $1 AND address = $2
	`

	var row statsRow
	if err := r.db.GetContext(ctx, &row, query, string(chainID), address); err != nil {
		return nil, fmt.Errorf("failed to get address stats: %w", err)
	}
	if row.TxCount == 0 {
		return nil, nil
	}

	stats := &domain.AddressStats{
		ChainID:     chainID,
		Address:     address,
		TxCount:     row.TxCount,
		TotalVolume: row.TotalVolume,
		MaxValue:    row.MaxValue,
		ValueP95:    decimal.NewFromFloat(row.ValueP95),
	}
	if row.FirstSeen.Valid {
		stats.FirstSeen = row.FirstSeen.Time
	}
	return stats, nil
}

type transferRow struct {
	ChainID      string          `db:"chain_id"`
	Address      string          `db:"address"`
	Counterparty string          `db:"counterparty"`
	Direction    string          `db:"direction"`
	Amount       decimal.Decimal `db:"amount"`
	Asset        string          `db:"asset"`
	TxHash       string          `db:"tx_hash"`
	ObservedAt   time.Time       `db:"observed_at"`
}

func (t *transferRow) toDomain() *domain.TransferRecord {
	return &domain.TransferRecord{
		ChainID:      domain.ChainID(t.ChainID),
		Address:      t.Address,
		Counterparty: t.Counterparty,
		Direction:    domain.Direction(t.Direction),
		Amount:       t.Amount,
		Asset:        t.Asset,
		TxHash:       t.TxHash,
		Timestamp:    t.ObservedAt,
	}
}

// RecentTransfers returns transfers observed at or after since, oldest first.
func (r *ActivityRepo) RecentTransfers(
	ctx context.Context,
	chainID domain.ChainID,
	address string,
	since time.Time,
) ([]*domain.TransferRecord, error) {
	query := `
		SELECT chain_id, address, counterparty, direction, amount, asset, tx_hash, observed_at
		FROM transfers
		WHERE chain_id = $1 AND address = $2 AND observed_at >= $3
		ORDER BY observed_at, id
	`

	var rows []transferRow
	if err := r.db.SelectContext(ctx, &rows, query, string(chainID), address, since); err != nil {
		return nil, fmt.Errorf("failed to get transfers: %w", err)
	}

	var transfers []*domain.TransferRecord
	for i := range rows {
		transfers = append(transfers, rows[i].toDomain())
	}
	return transfers, nil
}

// Counterparties returns the distinct counterparties an address has
// transacted with.
func (r *ActivityRepo) Counterparties(
	ctx context.Context,
	chainID domain.ChainID,
	address string,
) ([]string, error) {
	query := `
		SELECT DISTINCT counterparty
		FROM transfers
		WHERE chain_id = $1 AND address = $2 AND counterparty <> ''
	`

	var out []string
	if err := r.db.SelectContext(ctx, &out, query, string(chainID), address); err != nil {
		return nil, fmt.Errorf("failed to get counterparties: %w", err)
	}
	return out, nil
}
