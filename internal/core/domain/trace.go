package domain

import (
	"time"
)

type EdgeKind string

const (
	// EdgeBridgeTransfer links the two legs of a cross-chain bridge
	// transfer. Directed, high confidence.
	EdgeBridgeTransfer EdgeKind = "bridge_transfer"
	// EdgeSharedCounterparty links addresses on different chains that
	// interacted with the same labeled entity inside a time window.
	// Undirected, lower confidence.
	EdgeSharedCounterparty EdgeKind = "shared_counterparty"
)

// ChainAddress identifies an address on a specific chain.
type ChainAddress struct {
	ChainID ChainID `json:"chain_id"`
	Address string  `json:"address"`
}

// TraceEdge is one correlation between two chain addresses. Edges are
// append-only; confidence may later be revised downward, never up.
type TraceEdge struct {
	ID         string       `json:"id"`
	Kind       EdgeKind     `json:"kind"`
	From       ChainAddress `json:"from"`
	To         ChainAddress `json:"to"`
	Directed   bool         `json:"directed"`
	Confidence float64      `json:"confidence"`
	TxHash     string       `json:"tx_hash,omitempty"` // bridge leg evidence
	Entity     string       `json:"entity,omitempty"`  // shared counterparty label
	ObservedAt time.Time    `json:"observed_at"`
}

// EntitySighting records that an address interacted with a labeled entity
// (an exchange deposit wallet, a bridge contract, a mixer). Sightings of the
// same entity on different chains inside a time window produce
// shared-counterparty edges.
type EntitySighting struct {
	Entity     string       `json:"entity"`
	Node       ChainAddress `json:"node"`
	TxHash     string       `json:"tx_hash,omitempty"`
	ObservedAt time.Time    `json:"observed_at"`
}

// TraceGraph is the bounded expansion around a root address. Truncated marks
// that the depth cap cut the walk short; it is informational, not an error.
type TraceGraph struct {
	Root      ChainAddress   `json:"root"`
	Nodes     []ChainAddress `json:"nodes"`
	Edges     []TraceEdge    `json:"edges"`
	MaxDepth  int            `json:"max_depth"`
	Truncated bool           `json:"truncated"`
}
