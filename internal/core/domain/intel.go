package domain

import (
	"github.com/shopspring/decimal"
)

// CallArg is one decoded call argument, in declaration order.
type CallArg struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// DecodedCall is the result of matching call data against the method
// signature registry. A nil DecodedCall on TxIntel means the selector was
// unknown; the raw call data is still available on the transaction.
type DecodedCall struct {
	Selector    string    `json:"selector"` // 4-byte selector, 0x-hex
	Method      string    `json:"method"`   // canonical signature
	Args        []CallArg `json:"args,omitempty"`
	Bridge      bool      `json:"bridge,omitempty"`
	BridgeChain ChainID   `json:"bridge_chain,omitempty"` // destination chain for bridge calls
}

// BalanceDelta is a predicted balance change from simulation.
type BalanceDelta struct {
	Address string          `json:"address"`
	Asset   string          `json:"asset"`
	Delta   decimal.Decimal `json:"delta"`
}

// SimulationResult predicts the effect of executing a pending transaction
// against current state. Degraded marks a result produced without state access
// after simulation retries were exhausted.
type SimulationResult struct {
	PredictedSuccess bool           `json:"predicted_success"`
	FailureReason    string         `json:"failure_reason,omitempty"`
	BalanceDeltas    []BalanceDelta `json:"balance_deltas,omitempty"`
	Degraded         bool           `json:"degraded,omitempty"`
}

// MEVFlags are ordering-exploitation annotations for a confirmed transaction.
type MEVFlags struct {
	Sandwich bool     `json:"sandwich"`
	FrontRun bool     `json:"front_run"`
	Evidence []string `json:"evidence,omitempty"`
}

// PatternFlags are behavioral-pattern annotations for a transaction's
// participants. MixerProximity is the hop distance to a known mixer
// (0 = no mixer exposure, 1 = direct).
type PatternFlags struct {
	Structuring    bool     `json:"structuring"`
	MixerProximity int      `json:"mixer_proximity"`
	Evidence       []string `json:"evidence,omitempty"`
}

// TxIntel is the combined output of the intelligence pipeline stages.
type TxIntel struct {
	ChainID  ChainID      `json:"chain_id"`
	TxHash   string       `json:"tx_hash"`
	Decoded  *DecodedCall `json:"decoded,omitempty"`
	MEV      MEVFlags     `json:"mev"`
	Patterns PatternFlags `json:"patterns"`
}

// Flags renders the intel as machine-readable flag strings for scoring and
// storage.
func (ti *TxIntel) FlagStrings() []string {
	var flags []string
	if ti.MEV.Sandwich {
		flags = append(flags, "mev:sandwich")
	}
	if ti.MEV.FrontRun {
		flags = append(flags, "mev:front_run")
	}
	if ti.Patterns.Structuring {
		flags = append(flags, "pattern:structuring")
	}
	if ti.Patterns.MixerProximity > 0 {
		flags = append(flags, "pattern:mixer")
	}
	return flags
}
