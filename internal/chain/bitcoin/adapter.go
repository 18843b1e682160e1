// Package bitcoin normalizes Bitcoin transaction and address payloads
// (UTXO model, verbose getrawtransaction shape).
package bitcoin

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quarklabs/chainrisk/internal/core/domain"
)

type Adapter struct {
	chainID domain.ChainID
}

func New() *Adapter {
	return &Adapter{chainID: domain.ChainIDBitcoin}
}

func (a *Adapter) ChainID() domain.ChainID    { return a.chainID }
func (a *Adapter) Family() domain.ChainFamily { return domain.FamilyUTXO }

// NormalizeTransaction parses a verbose Bitcoin transaction payload into the
// chain-neutral form. Inputs carry prevout addresses and amounts when the
// payload includes them; the fee is inputs minus outputs, unknown for
// coinbase transactions.
func (a *Adapter) NormalizeTransaction(raw []byte) (*domain.NormalizedTransaction, error) {
	data, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}

	txHash, ok := data["txid"].(string)
	if !ok || txHash == "" {
		return nil, domain.Malformed("txid", "missing or not a string")
	}

	voutRaw, ok := data["vout"].([]any)
	if !ok {
		return nil, domain.Malformed("vout", "missing or not an array")
	}
	if len(voutRaw) == 0 {
		return nil, domain.Malformed("vout", "transaction has no outputs")
	}

	vinRaw, ok := data["vin"].([]any)
	if !ok || len(vinRaw) == 0 {
		return nil, domain.Malformed("vin", "missing or empty")
	}

	tx := &domain.NormalizedTransaction{
		ChainID: a.chainID,
		TxHash:  txHash,
		TxIndex: -1,
		Status:  domain.TxStatusPending,
	}

	// Outputs
	for i, outRaw := range voutRaw {
		outData, ok := outRaw.(map[string]any)
		if !ok {
			return nil, domain.Malformed("vout", "output "+strconv.Itoa(i)+" is not an object")
		}
		amount, ok := numField(outData, "value")
		if !ok {
			return nil, domain.Malformed("vout", "output "+strconv.Itoa(i)+" has no numeric value")
		}
		addr := extractOutputAddress(outData)
		if addr == "" {
			// OP_RETURN and non-standard scripts carry no address.
			continue
		}
		tx.Outputs = append(tx.Outputs, domain.Transfer{
			Address: addr,
			Amount:  amount,
			Asset:   "BTC",
		})
	}

	// Inputs
	firstIn, ok := vinRaw[0].(map[string]any)
	if !ok {
		return nil, domain.Malformed("vin", "input 0 is not an object")
	}
	if _, isCoinbase := firstIn["coinbase"]; isCoinbase {
		tx.Coinbase = true
	} else {
		inputTotal := decimal.Zero
		prevoutsComplete := true
		for _, inRaw := range vinRaw {
			inData, ok := inRaw.(map[string]any)
			if !ok {
				prevoutsComplete = false
				continue
			}
			prevout, ok := inData["prevout"].(map[string]any)
			if !ok {
				prevoutsComplete = false
				continue
			}
			amount, ok := numField(prevout, "value")
			if !ok {
				prevoutsComplete = false
				continue
			}
			inputTotal = inputTotal.Add(amount)
			if addr := extractOutputAddress(prevout); addr != "" {
				tx.Inputs = append(tx.Inputs, domain.Transfer{
					Address: addr,
					Amount:  amount,
					Asset:   "BTC",
				})
			}
		}

		if prevoutsComplete {
			fee := inputTotal.Sub(tx.TotalOutput())
			if fee.IsNegative() {
				return nil, domain.Malformed("vin", "input total below output total")
			}
			tx.Fee = fee
		} else if fee, ok := numField(data, "fee"); ok {
			tx.Fee = fee
		}
	}

	// Confirmation context
	_, hasBlockHash := data["blockhash"].(string)
	height, hasHeight := uintField(data, "height")
	if hasBlockHash || hasHeight {
		tx.Status = domain.TxStatusConfirmed
		tx.BlockHeight = height
		if idx, ok := uintField(data, "txindex"); ok {
			tx.TxIndex = int(idx)
		}
	}
	if ts, ok := uintField(data, "blocktime"); ok {
		tx.Timestamp = time.Unix(int64(ts), 0).UTC()
	} else if ts, ok := uintField(data, "time"); ok {
		tx.Timestamp = time.Unix(int64(ts), 0).UTC()
	}

	return tx, nil
}

// NormalizeAddress parses an address summary payload.
func (a *Adapter) NormalizeAddress(raw []byte) (*domain.NormalizedAddress, error) {
	data, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}

	addr, ok := data["address"].(string)
	if !ok || addr == "" {
		return nil, domain.Malformed("address", "missing or not a string")
	}
	canonical, err := a.CanonicalAddress(addr)
	if err != nil {
		return nil, err
	}

	na := &domain.NormalizedAddress{
		ChainID: a.chainID,
		Address: canonical,
	}
	if ts, ok := uintField(data, "first_seen"); ok {
		na.FirstSeen = time.Unix(int64(ts), 0).UTC()
	}
	if n, ok := uintField(data, "tx_count"); ok {
		na.TxCount = n
	}
	if d, ok := numField(data, "total_received"); ok {
		na.TotalReceived = d
	}
	if d, ok := numField(data, "total_sent"); ok {
		na.TotalSent = d
	}
	return na, nil
}

// CanonicalAddress normalizes a Bitcoin address. Bech32 addresses are
// lowercased (mixed case is invalid per BIP-173); base58 addresses are
// case-sensitive and pass through.
func (a *Adapter) CanonicalAddress(address string) (string, error) {
	addr := strings.TrimSpace(address)
	if addr == "" {
		return "", domain.Malformed("address", "empty")
	}
	if len(addr) < 14 || len(addr) > 90 {
		return "", domain.Malformed("address", "invalid length")
	}

	lower := strings.ToLower(addr)
	if strings.HasPrefix(lower, "bc1") || strings.HasPrefix(lower, "tb1") {
		if addr != lower && addr != strings.ToUpper(addr) {
			return "", domain.Malformed("address", "mixed-case bech32")
		}
		return lower, nil
	}
	return addr, nil
}

// Helper methods

func decodePayload(raw []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, domain.Malformed("payload", "empty")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, domain.Malformed("payload", "not a JSON object")
	}
	return data, nil
}

func numField(data map[string]any, field string) (decimal.Decimal, bool) {
	n, ok := data[field].(json.Number)
	if !ok {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

func uintField(data map[string]any, field string) (uint64, bool) {
	n, ok := data[field].(json.Number)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseUint(n.String(), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// extractOutputAddress extracts the address from a vout scriptPubKey.
// Handles both legacy (addresses array) and modern (address field) formats.
func extractOutputAddress(outData map[string]any) string {
	scriptPubKey, ok := outData["scriptPubKey"].(map[string]any)
	if !ok {
		return ""
	}

	// Modern format - single "address" field (SegWit, Taproot)
	if addr, ok := scriptPubKey["address"].(string); ok {
		return addr
	}

	// Legacy format - "addresses" array
	if addresses, ok := scriptPubKey["addresses"].([]any); ok && len(addresses) > 0 {
		if addr, ok := addresses[0].(string); ok {
			return addr
		}
	}

	// No address (OP_RETURN, non-standard scripts)
	return ""
}
