// Package ethereum normalizes Ethereum transaction and address payloads
// (account model, eth_getTransactionByHash shape merged with receipt fields).
package ethereum

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quarklabs/chainrisk/internal/core/domain"
)

// weiExp converts wei to ether: amount = wei * 10^-18.
const weiExp = -18

type Adapter struct {
	chainID domain.ChainID
	// networkID is the expected EVM chain id in payloads ("0x1" mainnet).
	networkID uint64
}

func New() *Adapter {
	return &Adapter{chainID: domain.ChainIDEthereum, networkID: 1}
}

func (a *Adapter) ChainID() domain.ChainID    { return a.chainID }
func (a *Adapter) Family() domain.ChainFamily { return domain.FamilyAccount }

// NormalizeTransaction parses an Ethereum transaction payload. Receipt fields
// (gasUsed, effectiveGasPrice, status, contractAddress) are read when the
// payload carries them; a payload without a block number is pending.
func (a *Adapter) NormalizeTransaction(raw []byte) (*domain.NormalizedTransaction, error) {
	data, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}

	txHash, ok := data["hash"].(string)
	if !ok || !isHexHash(txHash) {
		return nil, domain.Malformed("hash", "missing or not a 0x hash")
	}

	from, ok := data["from"].(string)
	if !ok || from == "" {
		return nil, domain.Malformed("from", "missing or not a string")
	}
	fromAddr, err := a.CanonicalAddress(from)
	if err != nil {
		return nil, domain.Malformed("from", "not a valid address")
	}

	if cid, ok := data["chainId"].(string); ok {
		id, err := parseHexUint64(cid)
		if err != nil {
			return nil, domain.Malformed("chainId", "invalid hex quantity")
		}
		if id != a.networkID {
			return nil, domain.Malformed("chainId", fmt.Sprintf("payload is for network %d", id))
		}
	}

	valueHex, ok := data["value"].(string)
	if !ok {
		return nil, domain.Malformed("value", "missing")
	}
	valueWei, err := parseHexBigInt(valueHex)
	if err != nil {
		return nil, domain.Malformed("value", "invalid hex quantity")
	}
	value := decimal.NewFromBigInt(valueWei, weiExp)

	tx := &domain.NormalizedTransaction{
		ChainID: a.chainID,
		TxHash:  strings.ToLower(txHash),
		TxIndex: -1,
		Status:  domain.TxStatusPending,
		Inputs: []domain.Transfer{
			{Address: fromAddr, Amount: value, Asset: "ETH"},
		},
	}

	// Call data
	input, _ := data["input"].(string)
	if input != "" && input != "0x" {
		tx.CallData = strings.ToLower(input)
	}

	// Destination: null "to" means contract creation.
	if to, ok := data["to"].(string); ok && to != "" {
		toAddr, err := a.CanonicalAddress(to)
		if err != nil {
			return nil, domain.Malformed("to", "not a valid address")
		}
		tx.Outputs = []domain.Transfer{
			{Address: toAddr, Amount: value, Asset: "ETH"},
		}
		if tx.CallData != "" {
			tx.ContractAddress = toAddr
		}
	} else {
		tx.ContractCreation = true
		if created, ok := data["contractAddress"].(string); ok && created != "" {
			addr, err := a.CanonicalAddress(created)
			if err != nil {
				return nil, domain.Malformed("contractAddress", "not a valid address")
			}
			tx.ContractAddress = addr
			tx.Outputs = []domain.Transfer{
				{Address: addr, Amount: value, Asset: "ETH"},
			}
		}
	}

	// Block context
	if bn, ok := data["blockNumber"].(string); ok && bn != "" {
		height, err := parseHexUint64(bn)
		if err != nil {
			return nil, domain.Malformed("blockNumber", "invalid hex quantity")
		}
		tx.BlockHeight = height
		tx.Status = domain.TxStatusConfirmed
		if idxHex, ok := data["transactionIndex"].(string); ok {
			if idx, err := parseHexUint64(idxHex); err == nil {
				tx.TxIndex = int(idx)
			}
		}
	}
	if tsHex, ok := data["timestamp"].(string); ok {
		if ts, err := parseHexUint64(tsHex); err == nil {
			tx.Timestamp = time.Unix(int64(ts), 0).UTC()
		}
	} else if ts, ok := data["timestamp"].(json.Number); ok {
		if sec, err := ts.Int64(); err == nil {
			tx.Timestamp = time.Unix(sec, 0).UTC()
		}
	}

	// Receipt fields
	if statusHex, ok := data["status"].(string); ok && tx.Status == domain.TxStatusConfirmed {
		if status, err := parseHexUint64(statusHex); err == nil && status == 0 {
			tx.Status = domain.TxStatusFailed
		}
	}
	if gasUsedHex, ok := data["gasUsed"].(string); ok {
		gasUsed, err := parseHexBigInt(gasUsedHex)
		if err != nil {
			return nil, domain.Malformed("gasUsed", "invalid hex quantity")
		}
		priceHex, ok := data["effectiveGasPrice"].(string)
		if !ok {
			priceHex, ok = data["gasPrice"].(string)
		}
		if ok {
			price, err := parseHexBigInt(priceHex)
			if err != nil {
				return nil, domain.Malformed("effectiveGasPrice", "invalid hex quantity")
			}
			feeWei := new(big.Int).Mul(gasUsed, price)
			tx.Fee = decimal.NewFromBigInt(feeWei, weiExp)
		}
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
	if ts, ok := data["first_seen"].(json.Number); ok {
		if sec, err := ts.Int64(); err == nil {
			na.FirstSeen = time.Unix(sec, 0).UTC()
		}
	}
	if n, ok := data["tx_count"].(json.Number); ok {
		if v, err := n.Int64(); err == nil && v >= 0 {
			na.TxCount = uint64(v)
		}
	}
	if d, ok := data["total_received"].(json.Number); ok {
		if dec, err := decimal.NewFromString(d.String()); err == nil {
			na.TotalReceived = dec
		}
	}
	if d, ok := data["total_sent"].(json.Number); ok {
		if dec, err := decimal.NewFromString(d.String()); err == nil {
			na.TotalSent = dec
		}
	}
	if b, ok := data["is_contract"].(bool); ok {
		na.IsContract = b
	}
	if b, ok := data["verified"].(bool); ok {
		na.Verified = b
	}
	return na, nil
}

// CanonicalAddress lowercases a 0x address. EIP-55 checksummed input is
// accepted; the canonical form drops the checksum casing.
func (a *Adapter) CanonicalAddress(address string) (string, error) {
	addr := strings.TrimSpace(address)
	if len(addr) != 42 || !strings.HasPrefix(strings.ToLower(addr), "0x") {
		return "", domain.Malformed("address", "not a 0x-prefixed 20-byte address")
	}
	for _, c := range addr[2:] {
		if !isHexDigit(byte(c)) {
			return "", domain.Malformed("address", "non-hex character")
		}
	}
	return strings.ToLower(addr), nil
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

func parseHexBigInt(hexStr string) (*big.Int, error) {
	s := strings.TrimPrefix(strings.ToLower(hexStr), "0x")
	if s == "" {
		return nil, fmt.Errorf("empty hex: %s", hexStr)
	}
	n := new(big.Int)
	if _, ok := n.SetString(s, 16); !ok {
		return nil, fmt.Errorf("invalid hex: %s", hexStr)
	}
	return n, nil
}

func parseHexUint64(hexStr string) (uint64, error) {
	n, err := parseHexBigInt(hexStr)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("hex quantity overflows uint64: %s", hexStr)
	}
	return n.Uint64(), nil
}

func isHexHash(s string) bool {
	if len(s) != 66 || !strings.HasPrefix(strings.ToLower(s), "0x") {
		return false
	}
	for i := 2; i < len(s); i++ {
		if !isHexDigit(s[i]) {
			return false
		}
	}
	return true
}

func isHexDigit(c byte) bool {
	switch {
	case c >= '0' && c <= '9':
		return true
	case c >= 'a' && c <= 'f':
		return true
	case c >= 'A' && c <= 'F':
		return true
	}
	return false
}
