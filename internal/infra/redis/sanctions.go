package redis

import (
	"context"

	"github.com/quarklabs/chainrisk/internal/core/domain"
	"github.com/quarklabs/chainrisk/internal/metrics"
	"github.com/quarklabs/chainrisk/internal/source"
)

// Sanctions is a source.SanctionsSource backed by the Redis mirror.
type Sanctions struct {
	client *Client
}

func NewSanctions(client *Client) *Sanctions {
	return &Sanctions{client: client}
}

// IsListed implements source.SanctionsSource.
func (s *Sanctions) IsListed(
	ctx context.Context,
	chainID domain.ChainID,
	address string,
) (source.Listing, error) {
	listName, effectiveDate, found, err := s.client.LookupListing(ctx, chainID, address)
	if err != nil {
		metrics.SanctionsChecks.WithLabelValues(string(chainID), "error").Inc()
		return source.Listing{}, err
	}
	if !found {
		metrics.SanctionsChecks.WithLabelValues(string(chainID), "clear").Inc()
		return source.Listing{}, nil
	}

	metrics.SanctionsChecks.WithLabelValues(string(chainID), "listed").Inc()
	return source.Listing{
		Listed:        true,
		ListName:      listName,
		EffectiveDate: effectiveDate,
	}, nil
}
