// Package chain defines the adapter contract for chain-specific payload
// normalization and the registry that dispatches on chain ID.
package chain

import (
	"fmt"
	"sync"

	"github.com/quarklabs/chainrisk/internal/core/domain"
)

// Adapter normalizes raw chain payloads into chain-neutral domain types.
// Implementations are pure transforms: no network access, no clock, no
// randomness. The same raw payload always yields the same result.
type Adapter interface {
	// ChainID returns the chain this adapter handles.
	ChainID() domain.ChainID

	// Family returns the chain's accounting family.
	Family() domain.ChainFamily

	// NormalizeTransaction parses a raw transaction payload.
	NormalizeTransaction(raw []byte) (*domain.NormalizedTransaction, error)

	// NormalizeAddress parses a raw address summary payload.
	NormalizeAddress(raw []byte) (*domain.NormalizedAddress, error)

	// CanonicalAddress converts an address to its canonical form.
	CanonicalAddress(address string) (string, error)
}

// Registry dispatches normalization to the adapter registered for a chain.
type Registry struct {
	mu       sync.RWMutex
	adapters map[domain.ChainID]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[domain.ChainID]Adapter),
	}
}

// Register adds an adapter. Re-registering a chain replaces the adapter.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.ChainID()] = a
}

// ForChain returns the adapter for a chain ID.
func (r *Registry) ForChain(chainID domain.ChainID) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedChain, chainID)
	}
	return a, nil
}

// Chains returns the registered chain IDs.
func (r *Registry) Chains() []domain.ChainID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]domain.ChainID, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	return ids
}

// NormalizeTransaction dispatches transaction normalization by chain ID.
func (r *Registry) NormalizeTransaction(
	chainID domain.ChainID,
	raw []byte,
) (*domain.NormalizedTransaction, error) {
	a, err := r.ForChain(chainID)
	if err != nil {
		return nil, err
	}
	return a.NormalizeTransaction(raw)
}

// NormalizeAddress dispatches address normalization by chain ID.
func (r *Registry) NormalizeAddress(
	chainID domain.ChainID,
	raw []byte,
) (*domain.NormalizedAddress, error) {
	a, err := r.ForChain(chainID)
	if err != nil {
		return nil, err
	}
	return a.NormalizeAddress(raw)
}

// CanonicalAddress dispatches address canonicalization by chain ID.
func (r *Registry) CanonicalAddress(chainID domain.ChainID, address string) (string, error) {
	a, err := r.ForChain(chainID)
	if err != nil {
		return "", err
	}
	return a.CanonicalAddress(address)
}
