package ethereum

import (
	"errors"
	"reflect"
	"testing"

	"github.com/quarklabs/chainrisk/internal/core/domain"
)

const confirmedTransfer = `{
	"hash": "0x88df016429689c079f3b2f6ad39fa052532c56795b733da78a91ebe6a713944b",
	"blockNumber": "0x12d687",
	"transactionIndex": "0x41",
	"timestamp": "0x65a0f480",
	"from": "0xA7d9ddBE1f17865597fBD27EC712455208B6B76d",
	"to": "0xF02c1c8e6114b1Dbe8937a39260b5b0a374432bB",
	"value": "0xde0b6b3a7640000",
	"input": "0x",
	"chainId": "0x1",
	"status": "0x1",
	"gasUsed": "0x5208",
	"effectiveGasPrice": "0x3b9aca00"
}`

func TestNormalizeTransaction_Transfer(t *testing.T) {
	a := New()

	tx, err := a.NormalizeTransaction([]byte(confirmedTransfer))
	if err != nil {
		t.Fatalf("NormalizeTransaction failed: %v", err)
	}

	if tx.Status != domain.TxStatusConfirmed {
		t.Errorf("Expected confirmed, got %s", tx.Status)
	}
	if tx.BlockHeight != 0x12d687 {
		t.Errorf("Expected height %d, got %d", 0x12d687, tx.BlockHeight)
	}
	if tx.TxIndex != 0x41 {
		t.Errorf("Expected index 65, got %d", tx.TxIndex)
	}
	if len(tx.Inputs) != 1 || len(tx.Outputs) != 1 {
		t.Fatalf("Expected 1 input and 1 output, got %d/%d", len(tx.Inputs), len(tx.Outputs))
	}
	if tx.Inputs[0].Address != "0xa7d9ddbe1f17865597fbd27ec712455208b6b76d" {
		t.Errorf("From not canonicalized: %s", tx.Inputs[0].Address)
	}
	// 0xde0b6b3a7640000 wei = 1 ETH
	if tx.Outputs[0].Amount.String() != "1" {
		t.Errorf("Expected 1 ETH, got %s", tx.Outputs[0].Amount)
	}
	// 21000 * 1 gwei = 0.000021 ETH
	if tx.Fee.String() != "0.000021" {
		t.Errorf("Expected fee 0.000021, got %s", tx.Fee)
	}
	if tx.ContractAddress != "" {
		t.Errorf("Plain transfer should have no contract address, got %s", tx.ContractAddress)
	}
}

func TestNormalizeTransaction_Deterministic(t *testing.T) {
	a := New()

	first, err := a.NormalizeTransaction([]byte(confirmedTransfer))
	if err != nil {
		t.Fatalf("First normalize failed: %v", err)
	}
	second, err := a.NormalizeTransaction([]byte(confirmedTransfer))
	if err != nil {
		t.Fatalf("Second normalize failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("Normalization is not deterministic for identical payloads")
	}
}

func TestNormalizeTransaction_ContractCall(t *testing.T) {
	a := New()

	payload := `{
		"hash": "0x99df016429689c079f3b2f6ad39fa052532c56795b733da78a91ebe6a713944b",
		"blockNumber": "0x10",
		"transactionIndex": "0x0",
		"from": "0xa7d9ddbe1f17865597fbd27ec712455208b6b76d",
		"to": "0xdac17f958d2ee523a2206206994597c13d831ec7",
		"value": "0x0",
		"input": "0xa9059cbb000000000000000000000000f02c1c8e6114b1dbe8937a39260b5b0a374432bb0000000000000000000000000000000000000000000000000000000005f5e100",
		"status": "0x1"
	}`

	tx, err := a.NormalizeTransaction([]byte(payload))
	if err != nil {
		t.Fatalf("NormalizeTransaction failed: %v", err)
	}
	if tx.CallData == "" {
		t.Error("Expected call data preserved")
	}
	if tx.ContractAddress != "0xdac17f958d2ee523a2206206994597c13d831ec7" {
		t.Errorf("Expected contract address set for call, got %s", tx.ContractAddress)
	}
}

func TestNormalizeTransaction_Pending(t *testing.T) {
	a := New()

	payload := `{
		"hash": "0x77df016429689c079f3b2f6ad39fa052532c56795b733da78a91ebe6a713944b",
		"from": "0xa7d9ddbe1f17865597fbd27ec712455208b6b76d",
		"to": "0xf02c1c8e6114b1dbe8937a39260b5b0a374432bb",
		"value": "0x2386f26fc10000",
		"input": "0x"
	}`

	tx, err := a.NormalizeTransaction([]byte(payload))
	if err != nil {
		t.Fatalf("NormalizeTransaction failed: %v", err)
	}
	if tx.Status != domain.TxStatusPending {
		t.Errorf("Expected pending, got %s", tx.Status)
	}
	if tx.BlockHeight != 0 || tx.TxIndex != -1 {
		t.Errorf("Pending should have no block context, got height=%d index=%d", tx.BlockHeight, tx.TxIndex)
	}
}

func TestNormalizeTransaction_ContractCreation(t *testing.T) {
	a := New()

	payload := `{
		"hash": "0x66df016429689c079f3b2f6ad39fa052532c56795b733da78a91ebe6a713944b",
		"blockNumber": "0x20",
		"from": "0xa7d9ddbe1f17865597fbd27ec712455208b6b76d",
		"to": null,
		"value": "0x0",
		"input": "0x608060405234801561001057600080fd5b50",
		"contractAddress": "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		"status": "0x1"
	}`

	tx, err := a.NormalizeTransaction([]byte(payload))
	if err != nil {
		t.Fatalf("NormalizeTransaction failed: %v", err)
	}
	if !tx.ContractCreation {
		t.Error("Expected contract creation flag")
	}
	if tx.ContractAddress != "0x5fbdb2315678afecb367f032d93f642f64180aa3" {
		t.Errorf("Expected created contract address, got %s", tx.ContractAddress)
	}
}

func TestNormalizeTransaction_FailedStatus(t *testing.T) {
	a := New()

	payload := `{
		"hash": "0x55df016429689c079f3b2f6ad39fa052532c56795b733da78a91ebe6a713944b",
		"blockNumber": "0x30",
		"from": "0xa7d9ddbe1f17865597fbd27ec712455208b6b76d",
		"to": "0xf02c1c8e6114b1dbe8937a39260b5b0a374432bb",
		"value": "0x0",
		"input": "0x",
		"status": "0x0"
	}`

	tx, err := a.NormalizeTransaction([]byte(payload))
	if err != nil {
		t.Fatalf("NormalizeTransaction failed: %v", err)
	}
	if tx.Status != domain.TxStatusFailed {
		t.Errorf("Expected failed, got %s", tx.Status)
	}
}

func TestNormalizeTransaction_Malformed(t *testing.T) {
	a := New()

	tests := []struct {
		name    string
		payload string
		field   string
	}{
		{
			name:    "bad hash",
			payload: `{"hash": "nothex", "from": "0xa7d9ddbe1f17865597fbd27ec712455208b6b76d", "value": "0x0"}`,
			field:   "hash",
		},
		{
			name:    "missing value",
			payload: `{"hash": "0x55df016429689c079f3b2f6ad39fa052532c56795b733da78a91ebe6a713944b", "from": "0xa7d9ddbe1f17865597fbd27ec712455208b6b76d"}`,
			field:   "value",
		},
		{
			name:    "bad value hex",
			payload: `{"hash": "0x55df016429689c079f3b2f6ad39fa052532c56795b733da78a91ebe6a713944b", "from": "0xa7d9ddbe1f17865597fbd27ec712455208b6b76d", "value": "0xzz"}`,
			field:   "value",
		},
		{
			name:    "block number overflows uint64",
			payload: `{"hash": "0x55df016429689c079f3b2f6ad39fa052532c56795b733da78a91ebe6a713944b", "from": "0xa7d9ddbe1f17865597fbd27ec712455208b6b76d", "value": "0x0", "blockNumber": "0x10000000000000000"}`,
			field:   "blockNumber",
		},
		{
			name:    "wrong network",
			payload: `{"hash": "0x55df016429689c079f3b2f6ad39fa052532c56795b733da78a91ebe6a713944b", "from": "0xa7d9ddbe1f17865597fbd27ec712455208b6b76d", "value": "0x0", "chainId": "0x89"}`,
			field:   "chainId",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.NormalizeTransaction([]byte(tt.payload))
			var mErr *domain.MalformedPayloadError
			if !errors.As(err, &mErr) {
				t.Fatalf("Expected MalformedPayloadError, got %v", err)
			}
			if mErr.Field != tt.field {
				t.Errorf("Expected field %q, got %q", tt.field, mErr.Field)
			}
		})
	}
}

func TestCanonicalAddress(t *testing.T) {
	a := New()

	got, err := a.CanonicalAddress("0xA7d9ddBE1f17865597fBD27EC712455208B6B76d")
	if err != nil {
		t.Fatalf("CanonicalAddress failed: %v", err)
	}
	if got != "0xa7d9ddbe1f17865597fbd27ec712455208b6b76d" {
		t.Errorf("Expected lowercase form, got %s", got)
	}

	if _, err := a.CanonicalAddress("0x123"); !errors.Is(err, domain.ErrMalformedPayload) {
		t.Errorf("Expected malformed error for short address, got %v", err)
	}
	if _, err := a.CanonicalAddress("0xZZd9ddbe1f17865597fbd27ec712455208b6b76d"); !errors.Is(err, domain.ErrMalformedPayload) {
		t.Errorf("Expected malformed error for non-hex address, got %v", err)
	}
}
