package intel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quarklabs/chainrisk/internal/core/config"
	"github.com/quarklabs/chainrisk/internal/core/domain"
)

// ActivityReader is the slice of stored activity pattern detection reads.
type ActivityReader interface {
	RecentTransfers(
		ctx context.Context,
		chainID domain.ChainID,
		address string,
		since time.Time,
	) ([]*domain.TransferRecord, error)

	Counterparties(ctx context.Context, chainID domain.ChainID, address string) ([]string, error)
}

// PatternDetector flags behavioral patterns around a transaction's
// participants: structuring (many small transfers inside a window) and
// proximity to labeled mixers.
type PatternDetector struct {
	cfg       config.PatternsConfig
	activity  ActivityReader
	threshold decimal.Decimal
	mixers    map[string]struct{} // "<chain>:<address>"
}

// NewPatternDetector creates a pattern detector. Mixer labels must be
// "<chain>:<address>".
func NewPatternDetector(cfg config.PatternsConfig, activity ActivityReader) (*PatternDetector, error) {
	threshold := decimal.Zero
	if cfg.StructuringAmount != "" {
		var err error
		threshold, err = decimal.NewFromString(cfg.StructuringAmount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse structuring amount %q: %w", cfg.StructuringAmount, err)
		}
	}

	mixers := make(map[string]struct{}, len(cfg.Mixers))
	for _, label := range cfg.Mixers {
		if !strings.Contains(label, ":") {
			return nil, fmt.Errorf("malformed mixer label %q, want \"<chain>:<address>\"", label)
		}
		mixers[label] = struct{}{}
	}

	return &PatternDetector{
		cfg:       cfg,
		activity:  activity,
		threshold: threshold,
		mixers:    mixers,
	}, nil
}

// Detect flags structuring and mixer proximity for the transaction. Flags
// annotate; their absence proves nothing.
func (d *PatternDetector) Detect(
	ctx context.Context,
	tx *domain.NormalizedTransaction,
) (domain.PatternFlags, error) {
	var flags domain.PatternFlags
	if err := d.detectStructuring(ctx, tx, &flags); err != nil {
		return flags, err
	}
	if err := d.detectMixer(ctx, tx, &flags); err != nil {
		return flags, err
	}
	return flags, nil
}

// detectStructuring counts the sender's below-threshold outbound transfers in
// the window ending at the transaction. The current transaction's own outputs
// count; stored replays of it do not.
func (d *PatternDetector) detectStructuring(
	ctx context.Context,
	tx *domain.NormalizedTransaction,
	flags *domain.PatternFlags,
) error {
	if d.threshold.IsZero() || d.cfg.StructuringCount <= 0 {
		return nil
	}
	sender := firstInputAddress(tx)
	if sender == "" {
		return nil
	}

	end := tx.Timestamp
	if end.IsZero() {
		end = time.Now()
	}
	since := end.Add(-d.cfg.StructuringWindow)

	recent, err := d.activity.RecentTransfers(ctx, tx.ChainID, sender, since)
	if err != nil {
		return fmt.Errorf("failed to load transfers for %s: %w", sender, err)
	}

	count := 0
	for _, tr := range recent {
		if tr.TxHash == tx.TxHash || tr.Direction != domain.DirectionOut {
			continue
		}
		if tr.Timestamp.After(end) {
			continue
		}
		if tr.Amount.IsPositive() && tr.Amount.LessThan(d.threshold) {
			count++
		}
	}
	for _, out := range tx.Outputs {
		if out.Address == "" || out.Address == sender {
			continue
		}
		if out.Amount.IsPositive() && out.Amount.LessThan(d.threshold) {
			count++
		}
	}

	if count >= d.cfg.StructuringCount {
		flags.Structuring = true
		flags.Evidence = append(flags.Evidence, fmt.Sprintf(
			"structuring: %d transfers under %s from %s within %s",
			count, d.threshold, sender, d.cfg.StructuringWindow))
	}
	return nil
}

// detectMixer walks outward from the transaction's participants through
// stored counterparties, breadth-first, until it hits a labeled mixer or the
// hop budget runs out. Hop 1 is the transaction touching a mixer directly.
func (d *PatternDetector) detectMixer(
	ctx context.Context,
	tx *domain.NormalizedTransaction,
	flags *domain.PatternFlags,
) error {
	if len(d.mixers) == 0 || d.cfg.MixerMaxHops <= 0 {
		return nil
	}

	frontier := tx.Counterparties()
	visited := make(map[string]struct{}, len(frontier))
	for _, addr := range frontier {
		visited[addr] = struct{}{}
	}

	for hop := 1; hop <= d.cfg.MixerMaxHops; hop++ {
		for _, addr := range frontier {
			if d.isMixer(tx.ChainID, addr) {
				flags.MixerProximity = hop
				flags.Evidence = append(flags.Evidence, fmt.Sprintf(
					"mixer: %s at hop %d", addr, hop))
				return nil
			}
		}
		if hop == d.cfg.MixerMaxHops {
			break
		}

		var next []string
		for _, addr := range frontier {
			cps, err := d.activity.Counterparties(ctx, tx.ChainID, addr)
			if err != nil {
				return fmt.Errorf("failed to load counterparties for %s: %w", addr, err)
			}
			for _, cp := range cps {
				if _, ok := visited[cp]; ok || cp == "" {
					continue
				}
				visited[cp] = struct{}{}
				next = append(next, cp)
			}
		}
		if len(next) == 0 {
			break
		}
		frontier = next
	}
	return nil
}

func (d *PatternDetector) isMixer(chainID domain.ChainID, address string) bool {
	_, ok := d.mixers[string(chainID)+":"+address]
	return ok
}

func firstInputAddress(tx *domain.NormalizedTransaction) string {
	for _, in := range tx.Inputs {
		if in.Address != "" {
			return in.Address
		}
	}
	return ""
}
