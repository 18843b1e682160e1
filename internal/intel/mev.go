package intel

import (
	"context"
	"fmt"

	"github.com/quarklabs/chainrisk/internal/core/domain"
)

// frontRunProximity is how many index positions ahead a competing
// transaction still counts as adjacent.
const frontRunProximity = 5

// BlockContext provides the sibling transactions of a confirmed transaction.
type BlockContext interface {
	BlockTransactions(
		ctx context.Context,
		chainID domain.ChainID,
		height uint64,
	) ([]*domain.NormalizedTransaction, error)
}

// MEVDetector annotates confirmed transactions with same-block ordering
// exploitation flags. Pending transactions have no block neighborhood and
// always come back clean.
type MEVDetector struct {
	blocks BlockContext
}

// NewMEVDetector creates an MEV detector.
func NewMEVDetector(blocks BlockContext) *MEVDetector {
	return &MEVDetector{blocks: blocks}
}

// Detect inspects the transaction's block neighborhood. Flags annotate;
// their absence proves nothing.
func (d *MEVDetector) Detect(
	ctx context.Context,
	tx *domain.NormalizedTransaction,
) (domain.MEVFlags, error) {
	var flags domain.MEVFlags
	if tx.Status != domain.TxStatusConfirmed || tx.TxIndex < 0 {
		return flags, nil
	}

	siblings, err := d.blocks.BlockTransactions(ctx, tx.ChainID, tx.BlockHeight)
	if err != nil {
		return flags, fmt.Errorf("failed to load block %d: %w", tx.BlockHeight, err)
	}

	d.detectSandwich(tx, siblings, &flags)
	d.detectFrontRun(tx, siblings, &flags)
	return flags, nil
}

// detectSandwich looks for one actor bracketing the victim: a transaction
// before and one after, spent by the same actor, both trading against an
// address the victim's outputs touch.
func (d *MEVDetector) detectSandwich(
	victim *domain.NormalizedTransaction,
	siblings []*domain.NormalizedTransaction,
	flags *domain.MEVFlags,
) {
	victimTargets := outputSet(victim)

	for _, front := range siblings {
		if front.TxHash == victim.TxHash || front.TxIndex >= victim.TxIndex {
			continue
		}
		target := sharedCounterparty(front, victimTargets)
		if target == "" {
			continue
		}
		actors := inputSet(front)

		for _, back := range siblings {
			if back.TxHash == victim.TxHash || back.TxIndex <= victim.TxIndex {
				continue
			}
			if !touches(back, target) {
				continue
			}
			actor := sharedInput(back, actors)
			if actor == "" {
				continue
			}
			flags.Sandwich = true
			flags.Evidence = append(flags.Evidence, fmt.Sprintf(
				"sandwich: actor %s brackets index %d with [%d, %d] via %s",
				actor, victim.TxIndex, front.TxIndex, back.TxIndex, target))
			return
		}
	}
}

// detectFrontRun looks for an adjacent earlier transaction hitting the same
// target with the same selector at a higher fee.
func (d *MEVDetector) detectFrontRun(
	victim *domain.NormalizedTransaction,
	siblings []*domain.NormalizedTransaction,
	flags *domain.MEVFlags,
) {
	if len(victim.Outputs) == 0 {
		return
	}
	target := victim.Outputs[0].Address
	selector := callSelector(victim)

	for _, sib := range siblings {
		if sib.TxHash == victim.TxHash {
			continue
		}
		if sib.TxIndex >= victim.TxIndex || victim.TxIndex-sib.TxIndex > frontRunProximity {
			continue
		}
		if len(sib.Outputs) == 0 || sib.Outputs[0].Address != target {
			continue
		}
		if callSelector(sib) != selector {
			continue
		}
		if !sib.Fee.GreaterThan(victim.Fee) {
			continue
		}
		flags.FrontRun = true
		flags.Evidence = append(flags.Evidence, fmt.Sprintf(
			"front_run: %s at index %d outbid index %d on %s",
			sib.TxHash, sib.TxIndex, victim.TxIndex, target))
		return
	}
}

func callSelector(tx *domain.NormalizedTransaction) string {
	if len(tx.CallData) >= 10 {
		return tx.CallData[:10]
	}
	return ""
}

func outputSet(tx *domain.NormalizedTransaction) map[string]struct{} {
	set := make(map[string]struct{}, len(tx.Outputs))
	for _, out := range tx.Outputs {
		if out.Address != "" {
			set[out.Address] = struct{}{}
		}
	}
	return set
}

func inputSet(tx *domain.NormalizedTransaction) map[string]struct{} {
	set := make(map[string]struct{}, len(tx.Inputs))
	for _, in := range tx.Inputs {
		if in.Address != "" {
			set[in.Address] = struct{}{}
		}
	}
	return set
}

// sharedCounterparty returns the first of the transaction's participants
// found in set.
func sharedCounterparty(tx *domain.NormalizedTransaction, set map[string]struct{}) string {
	for _, addr := range tx.Counterparties() {
		if _, ok := set[addr]; ok {
			return addr
		}
	}
	return ""
}

func touches(tx *domain.NormalizedTransaction, address string) bool {
	for _, in := range tx.Inputs {
		if in.Address == address {
			return true
		}
	}
	for _, out := range tx.Outputs {
		if out.Address == address {
			return true
		}
	}
	return false
}

func sharedInput(tx *domain.NormalizedTransaction, actors map[string]struct{}) string {
	for _, in := range tx.Inputs {
		if _, ok := actors[in.Address]; ok {
			return in.Address
		}
	}
	return ""
}
