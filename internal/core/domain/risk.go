package domain

import (
	"time"
)

// RiskFactor is one named contribution to a risk score. Raw is the factor's
// normalized signal in [0,1] before weighting.
type RiskFactor struct {
	Name         string  `json:"name"`
	Raw          float64 `json:"raw"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"` // points on the 0-100 scale
	Detail       string  `json:"detail,omitempty"`
}

// RiskScore is the scored assessment of a single transaction.
type RiskScore struct {
	ChainID      ChainID      `json:"chain_id"`
	TxHash       string       `json:"tx_hash"`
	Score        int          `json:"score"` // clamped to [0,100]
	Factors      []RiskFactor `json:"factors"`
	Flags        []string     `json:"flags,omitempty"`
	ModelVersion string       `json:"model_version"`
	ComputedAt   time.Time    `json:"computed_at"`
}
