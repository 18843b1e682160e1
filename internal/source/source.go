// Package source defines the external data contracts: chain node gateways
// that serve raw payloads, and sanctions list providers. Implementations are
// transports only; payload interpretation belongs to the chain adapters.
package source

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quarklabs/chainrisk/internal/core/domain"
)

// HistoryPage is one page of an address's raw transaction payloads.
// NextCursor is opaque; empty means the history is exhausted.
type HistoryPage struct {
	Items      [][]byte `json:"items"`
	NextCursor string   `json:"next_cursor"`
}

// NodeSource fetches raw chain payloads from a node gateway. All methods are
// retryable; "not found" surfaces as domain.ErrNotFound.
type NodeSource interface {
	// ChainID returns the chain this source serves.
	ChainID() domain.ChainID

	// Name identifies the provider for logs and metrics.
	Name() string

	// FetchRawTransaction returns the raw payload for a transaction hash.
	FetchRawTransaction(ctx context.Context, txHash string) ([]byte, error)

	// FetchRawAddressHistory pages through an address's raw transaction
	// payloads. An empty cursor starts from the beginning.
	FetchRawAddressHistory(ctx context.Context, address, cursor string, limit int) (*HistoryPage, error)

	// FetchBalance returns the spendable balance for an address.
	FetchBalance(ctx context.Context, address, asset string) (decimal.Decimal, error)

	// FetchBlockTransactions returns the raw payloads of every transaction
	// in a block, in block order.
	FetchBlockTransactions(ctx context.Context, height uint64) ([][]byte, error)

	// Health probes the gateway.
	Health(ctx context.Context) error
}

// Listing is a sanctions list lookup result.
type Listing struct {
	Listed        bool      `json:"listed"`
	ListName      string    `json:"list_name,omitempty"`
	EffectiveDate time.Time `json:"effective_date,omitempty"`
}

// SanctionsSource answers whether an address appears on a sanctions list.
type SanctionsSource interface {
	IsListed(ctx context.Context, chainID domain.ChainID, address string) (Listing, error)
}

// StaticSanctions is an in-memory SanctionsSource for tests and development.
type StaticSanctions struct {
	mu      sync.RWMutex
	entries map[string]Listing
}

func NewStaticSanctions() *StaticSanctions {
	return &StaticSanctions{
		entries: make(map[string]Listing),
	}
}

// Add lists an address.
func (s *StaticSanctions) Add(
	chainID domain.ChainID,
	address, listName string,
	effective time.Time,
) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sanctionsKey(chainID, address)] = Listing{
		Listed:        true,
		ListName:      listName,
		EffectiveDate: effective,
	}
}

// IsListed implements SanctionsSource.
func (s *StaticSanctions) IsListed(
	ctx context.Context,
	chainID domain.ChainID,
	address string,
) (Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[sanctionsKey(chainID, address)], nil
}

func sanctionsKey(chainID domain.ChainID, address string) string {
	return string(chainID) + ":" + address
}
