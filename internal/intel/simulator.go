package intel

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/quarklabs/chainrisk/internal/core/domain"
	"github.com/quarklabs/chainrisk/internal/metrics"
	"github.com/quarklabs/chainrisk/internal/source"
)

// StateSource provides the chain state a simulation reads.
type StateSource interface {
	Balance(ctx context.Context, chainID domain.ChainID, address, asset string) (decimal.Decimal, error)
	IsContract(ctx context.Context, chainID domain.ChainID, address string) (bool, error)
}

// Simulator predicts the effect of executing a transaction against current
// balances. It never executes anything; it folds the transaction's declared
// transfers over a state snapshot.
type Simulator struct {
	state StateSource
	retry source.Policy
}

// NewSimulator creates a simulator with the given state access and retry
// policy for state reads.
func NewSimulator(state StateSource, retry source.Policy) *Simulator {
	return &Simulator{state: state, retry: retry}
}

// Simulate predicts success or failure with a reason and the net balance
// deltas. State access failures after retries yield a degraded result, not
// an error: the caller decides how much a blind prediction is worth.
func (s *Simulator) Simulate(
	ctx context.Context,
	tx *domain.NormalizedTransaction,
) (*domain.SimulationResult, error) {
	deltas := netDeltas(tx)

	// A call to a plain account cannot run code.
	if len(tx.CallData) > 0 && !tx.ContractCreation && len(tx.Outputs) > 0 {
		target := tx.Outputs[0].Address
		isContract, err := s.checkContract(ctx, tx.ChainID, target)
		if err != nil {
			return s.degraded(tx, deltas, err), nil
		}
		if !isContract {
			metrics.SimulationsTotal.WithLabelValues(string(tx.ChainID), "predicted_failure").Inc()
			return &domain.SimulationResult{
				PredictedSuccess: false,
				FailureReason:    fmt.Sprintf("recipient %s is not a contract", target),
				BalanceDeltas:    deltas,
			}, nil
		}
	}

	// Spenders must cover their outflows.
	for _, d := range deltas {
		if !d.Delta.IsNegative() {
			continue
		}
		balance, err := s.fetchBalance(ctx, tx.ChainID, d.Address, d.Asset)
		if err != nil {
			return s.degraded(tx, deltas, err), nil
		}
		if balance.Add(d.Delta).IsNegative() {
			short := balance.Add(d.Delta).Neg()
			metrics.SimulationsTotal.WithLabelValues(string(tx.ChainID), "predicted_failure").Inc()
			return &domain.SimulationResult{
				PredictedSuccess: false,
				FailureReason: fmt.Sprintf(
					"insufficient balance: %s short %s %s", d.Address, short, d.Asset),
				BalanceDeltas: deltas,
			}, nil
		}
	}

	metrics.SimulationsTotal.WithLabelValues(string(tx.ChainID), "predicted_success").Inc()
	return &domain.SimulationResult{
		PredictedSuccess: true,
		BalanceDeltas:    deltas,
	}, nil
}

func (s *Simulator) fetchBalance(
	ctx context.Context,
	chainID domain.ChainID,
	address, asset string,
) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.retry.Do(ctx, "simulate_balance", func() error {
		var err error
		balance, err = s.state.Balance(ctx, chainID, address, asset)
		return err
	})
	return balance, err
}

func (s *Simulator) checkContract(
	ctx context.Context,
	chainID domain.ChainID,
	address string,
) (bool, error) {
	var isContract bool
	err := s.retry.Do(ctx, "simulate_code_check", func() error {
		var err error
		isContract, err = s.state.IsContract(ctx, chainID, address)
		return err
	})
	return isContract, err
}

func (s *Simulator) degraded(
	tx *domain.NormalizedTransaction,
	deltas []domain.BalanceDelta,
	err error,
) *domain.SimulationResult {
	metrics.SimulationsTotal.WithLabelValues(string(tx.ChainID), "degraded").Inc()
	return &domain.SimulationResult{
		PredictedSuccess: false,
		FailureReason:    fmt.Sprintf("state unavailable: %v", err),
		BalanceDeltas:    deltas,
		Degraded:         true,
	}
}

// netDeltas folds the transaction's transfers into per-(address, asset) net
// changes, sorted for deterministic output.
func netDeltas(tx *domain.NormalizedTransaction) []domain.BalanceDelta {
	type akey struct {
		address string
		asset   string
	}
	net := make(map[akey]decimal.Decimal)

	for _, in := range tx.Inputs {
		k := akey{in.Address, in.Asset}
		net[k] = net[k].Sub(in.Amount)
	}
	for _, out := range tx.Outputs {
		k := akey{out.Address, out.Asset}
		net[k] = net[k].Add(out.Amount)
	}

	// On account chains the fee leaves the first spender in the native
	// asset. On UTXO chains it is already the input/output gap.
	if !tx.Fee.IsZero() && len(tx.Inputs) > 0 &&
		domain.ChainFamilies[tx.ChainID] == domain.FamilyAccount {
		native := domain.NativeAssets[tx.ChainID]
		k := akey{tx.Inputs[0].Address, native}
		net[k] = net[k].Sub(tx.Fee)
	}

	deltas := make([]domain.BalanceDelta, 0, len(net))
	for k, v := range net {
		if v.IsZero() {
			continue
		}
		deltas = append(deltas, domain.BalanceDelta{
			Address: k.address,
			Asset:   k.asset,
			Delta:   v,
		})
	}
	sort.Slice(deltas, func(i, j int) bool {
		if deltas[i].Address != deltas[j].Address {
			return deltas[i].Address < deltas[j].Address
		}
		return deltas[i].Asset < deltas[j].Asset
	})
	return deltas
}
