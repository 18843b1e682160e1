package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// NormalizedAddress is the chain-neutral view of an address and its observed
// on-chain footprint.
type NormalizedAddress struct {
	ChainID       ChainID         `json:"chain_id"`
	Address       string          `json:"address"` // canonical form
	FirstSeen     time.Time       `json:"first_seen"`
	TxCount       uint64          `json:"tx_count"`
	TotalReceived decimal.Decimal `json:"total_received"`
	TotalSent     decimal.Decimal `json:"total_sent"`
	IsContract    bool            `json:"is_contract,omitempty"`
	Verified      bool            `json:"verified,omitempty"` // contract source verified
}

// AddressStats aggregates an address's transfer history for scoring.
type AddressStats struct {
	ChainID     ChainID         `json:"chain_id"`
	Address     string          `json:"address"`
	FirstSeen   time.Time       `json:"first_seen"`
	TxCount     uint64          `json:"tx_count"`
	TotalVolume decimal.Decimal `json:"total_volume"`
	MaxValue    decimal.Decimal `json:"max_value"`
	ValueP95    decimal.Decimal `json:"value_p95"`
}

type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// TransferRecord is one observed value movement touching an address, kept for
// pattern detection and value-percentile scoring.
type TransferRecord struct {
	ChainID      ChainID         `json:"chain_id"`
	Address      string          `json:"address"`
	Counterparty string          `json:"counterparty"`
	Direction    Direction       `json:"direction"`
	Amount       decimal.Decimal `json:"amount"`
	Asset        string          `json:"asset"`
	TxHash       string          `json:"tx_hash"`
	Timestamp    time.Time       `json:"timestamp"`
}
