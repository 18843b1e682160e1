package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// NormalizedTransaction is the chain-neutral representation of a transaction.
// UTXO chains populate multiple inputs/outputs; account chains populate one of
// each (plus token transfers when decoded).
type NormalizedTransaction struct {
	ChainID     ChainID    `json:"chain_id"`
	TxHash      string     `json:"tx_hash"`
	BlockHeight uint64     `json:"block_height"` // 0 for pending
	TxIndex     int        `json:"tx_index"`     // -1 for pending
	Timestamp   time.Time  `json:"timestamp"`    // block time; zero for pending
	Status      TxStatus   `json:"status"`
	Inputs      []Transfer `json:"inputs"`
	Outputs     []Transfer `json:"outputs"`
	// Fee is the total fee in the native asset. Unknown for coinbase
	// transactions, which mint rather than spend.
	Fee      decimal.Decimal `json:"fee"`
	Coinbase bool            `json:"coinbase,omitempty"`

	// Account-chain extras.
	ContractCreation bool   `json:"contract_creation,omitempty"`
	ContractAddress  string `json:"contract_address,omitempty"`
	CallData         string `json:"call_data,omitempty"` // 0x-hex, empty for plain transfers
}

// Transfer is a single value movement into or out of a transaction.
type Transfer struct {
	Address string          `json:"address"`
	Amount  decimal.Decimal `json:"amount"`
	Asset   string          `json:"asset"`
}

type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFailed    TxStatus = "failed"
)

// TotalOutput sums all output amounts.
func (t *NormalizedTransaction) TotalOutput() decimal.Decimal {
	sum := decimal.Zero
	for _, out := range t.Outputs {
		sum = sum.Add(out.Amount)
	}
	return sum
}

// Counterparties returns the distinct addresses on both sides of the
// transaction, inputs first, in first-appearance order.
func (t *NormalizedTransaction) Counterparties() []string {
	seen := make(map[string]struct{}, len(t.Inputs)+len(t.Outputs))
	var addrs []string
	for _, tr := range t.Inputs {
		if _, ok := seen[tr.Address]; ok || tr.Address == "" {
			continue
		}
		seen[tr.Address] = struct{}{}
		addrs = append(addrs, tr.Address)
	}
	for _, tr := range t.Outputs {
		if _, ok := seen[tr.Address]; ok || tr.Address == "" {
			continue
		}
		seen[tr.Address] = struct{}{}
		addrs = append(addrs, tr.Address)
	}
	return addrs
}
