// Package trace maintains the cross-chain correlation graph: bridge-transfer
// and shared-counterparty edges between (chain, address) nodes, and bounded
// breadth-first expansions over them.
package trace

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/quarklabs/chainrisk/internal/core/config"
	"github.com/quarklabs/chainrisk/internal/core/domain"
	"github.com/quarklabs/chainrisk/internal/infra/storage"
	"github.com/quarklabs/chainrisk/internal/metrics"
)

// Correlator records correlation edges and expands the graph around a node.
type Correlator struct {
	repo storage.TraceRepository
	cfg  config.TraceConfig
}

// NewCorrelator creates a correlator over the given edge store.
func NewCorrelator(repo storage.TraceRepository, cfg config.TraceConfig) *Correlator {
	return &Correlator{repo: repo, cfg: cfg}
}

// Trace expands the graph around root up to maxDepth hops, breadth-first.
// Directed edges are walked in both directions; correlation is symmetric even
// when value flow is not. A depth of zero or less uses the configured default;
// depths above the configured ceiling are clamped. Hitting the cap sets the
// Truncated marker, it is not an error. An address with no edges yields a
// single-node graph.
func (c *Correlator) Trace(
	ctx context.Context,
	chainID domain.ChainID,
	address string,
	maxDepth int,
) (*domain.TraceGraph, error) {
	if maxDepth <= 0 {
		maxDepth = c.cfg.DefaultDepth
	}
	if maxDepth > c.cfg.MaxDepth {
		maxDepth = c.cfg.MaxDepth
	}

	root := domain.ChainAddress{ChainID: chainID, Address: address}
	graph := &domain.TraceGraph{
		Root:     root,
		Nodes:    []domain.ChainAddress{root},
		MaxDepth: maxDepth,
	}

	visited := map[domain.ChainAddress]struct{}{root: {}}
	seenEdges := make(map[string]struct{})
	frontier := []domain.ChainAddress{root}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []domain.ChainAddress
		for _, node := range frontier {
			edges, err := c.repo.Neighbors(ctx, node)
			if err != nil {
				return nil, fmt.Errorf("failed to expand %s:%s: %w", node.ChainID, node.Address, err)
			}
			for _, edge := range edges {
				if _, ok := seenEdges[edge.ID]; !ok {
					seenEdges[edge.ID] = struct{}{}
					graph.Edges = append(graph.Edges, *edge)
				}
				other := otherEnd(edge, node)
				if _, ok := visited[other]; ok {
					continue
				}
				visited[other] = struct{}{}
				graph.Nodes = append(graph.Nodes, other)
				next = append(next, other)
			}
		}
		frontier = next
	}

	// Nodes left on the frontier sit exactly at the cap. Any unvisited
	// neighbor beyond them means the cap cut the walk short. Edges closing
	// back into the graph are still collected.
	for _, node := range frontier {
		edges, err := c.repo.Neighbors(ctx, node)
		if err != nil {
			return nil, fmt.Errorf("failed to expand %s:%s: %w", node.ChainID, node.Address, err)
		}
		for _, edge := range edges {
			other := otherEnd(edge, node)
			if _, ok := visited[other]; !ok {
				graph.Truncated = true
				continue
			}
			if _, ok := seenEdges[edge.ID]; !ok {
				seenEdges[edge.ID] = struct{}{}
				graph.Edges = append(graph.Edges, *edge)
			}
		}
	}

	metrics.TraceQueries.WithLabelValues(string(chainID), strconv.FormatBool(graph.Truncated)).Inc()
	return graph, nil
}

// RecordBridgeTransfer appends a directed bridge edge between the two legs of
// a cross-chain transfer. The edge ID is derived from the legs, so replaying
// the same transfer is a no-op.
func (c *Correlator) RecordBridgeTransfer(
	ctx context.Context,
	from, to domain.ChainAddress,
	txHash string,
	observedAt time.Time,
) (*domain.TraceEdge, error) {
	if from.ChainID == to.ChainID {
		return nil, domain.Malformed("to", "bridge transfer must cross chains")
	}
	if from.Address == "" || to.Address == "" {
		return nil, domain.Malformed("address", "bridge legs need both addresses")
	}

	edge := &domain.TraceEdge{
		ID: deterministicEdgeID("bridge",
			string(from.ChainID), from.Address,
			string(to.ChainID), to.Address, txHash),
		Kind:       domain.EdgeBridgeTransfer,
		From:       from,
		To:         to,
		Directed:   true,
		Confidence: c.cfg.BridgeConfidence,
		TxHash:     txHash,
		ObservedAt: observedAt,
	}
	if err := c.repo.AppendEdge(ctx, edge); err != nil {
		return nil, fmt.Errorf("failed to append bridge edge: %w", err)
	}
	metrics.TraceEdgesRecorded.WithLabelValues(string(domain.EdgeBridgeTransfer)).Inc()
	return edge, nil
}

// RecordEntitySighting stores the sighting and links it to sightings of the
// same entity on other chains inside the counterparty window. Same-chain
// sightings never produce edges; with one chain there is nothing to correlate.
func (c *Correlator) RecordEntitySighting(
	ctx context.Context,
	s *domain.EntitySighting,
) ([]*domain.TraceEdge, error) {
	if s.Entity == "" {
		return nil, domain.Malformed("entity", "sighting needs an entity label")
	}
	if err := c.repo.RecordSighting(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to record sighting: %w", err)
	}

	from := s.ObservedAt.Add(-c.cfg.CounterpartyWindow)
	to := s.ObservedAt.Add(c.cfg.CounterpartyWindow)
	others, err := c.repo.SightingsForEntity(ctx, s.Entity, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load sightings for %s: %w", s.Entity, err)
	}

	var edges []*domain.TraceEdge
	for _, other := range others {
		if other.Node.ChainID == s.Node.ChainID {
			continue
		}
		a, b := orderEndpoints(s.Node, other.Node)
		edge := &domain.TraceEdge{
			ID: deterministicEdgeID("shared", s.Entity,
				string(a.ChainID), a.Address,
				string(b.ChainID), b.Address),
			Kind:       domain.EdgeSharedCounterparty,
			From:       a,
			To:         b,
			Directed:   false,
			Confidence: c.cfg.SharedConfidence,
			Entity:     s.Entity,
			ObservedAt: s.ObservedAt,
		}
		if err := c.repo.AppendEdge(ctx, edge); err != nil {
			return nil, fmt.Errorf("failed to append shared edge: %w", err)
		}
		metrics.TraceEdgesRecorded.WithLabelValues(string(domain.EdgeSharedCounterparty)).Inc()
		edges = append(edges, edge)
	}
	return edges, nil
}

// ReviseConfidence lowers an edge's confidence. The store rejects upward
// revisions.
func (c *Correlator) ReviseConfidence(ctx context.Context, edgeID string, confidence float64) error {
	if confidence < 0 || confidence > 1 {
		return domain.Malformed("confidence", "must be between 0 and 1")
	}
	return c.repo.ReviseConfidence(ctx, edgeID, confidence)
}

// deterministicEdgeID derives a stable UUID from the edge identity so
// replayed observations land on the same row.
func deterministicEdgeID(parts ...string) string {
	key := ""
	for _, p := range parts {
		key += p + "|"
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

// orderEndpoints puts an undirected pair in canonical order.
func orderEndpoints(a, b domain.ChainAddress) (domain.ChainAddress, domain.ChainAddress) {
	if a.ChainID > b.ChainID || (a.ChainID == b.ChainID && a.Address > b.Address) {
		return b, a
	}
	return a, b
}

func otherEnd(edge *domain.TraceEdge, node domain.ChainAddress) domain.ChainAddress {
	if edge.From == node {
		return edge.To
	}
	return edge.From
}
