package source

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Gateway result parsing shared by the HTTP and gRPC transports.

func parseHistoryPage(result json.RawMessage) (*HistoryPage, error) {
	var page struct {
		Items      []json.RawMessage `json:"items"`
		NextCursor string            `json:"next_cursor"`
	}
	if err := json.Unmarshal(result, &page); err != nil {
		return nil, fmt.Errorf("parse history page: %w", err)
	}

	out := &HistoryPage{NextCursor: page.NextCursor}
	for _, item := range page.Items {
		out.Items = append(out.Items, []byte(item))
	}
	return out, nil
}

func parseBalance(result json.RawMessage) (decimal.Decimal, error) {
	var balStr string
	if err := json.Unmarshal(result, &balStr); err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse balance: %w", err)
	}
	bal, err := decimal.NewFromString(balStr)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse balance %q: %w", balStr, err)
	}
	return bal, nil
}

func parseBlockTransactions(result json.RawMessage) ([][]byte, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(result, &items); err != nil {
		return nil, fmt.Errorf("parse block transactions: %w", err)
	}
	txs := make([][]byte, 0, len(items))
	for _, item := range items {
		txs = append(txs, []byte(item))
	}
	return txs, nil
}
