package domain

import (
	"time"
)

type ReputationClass string

const (
	// ClassUnknown is the class of an address with no evidence at all.
	// Records are created unknown on first sight.
	ClassUnknown    ReputationClass = "unknown"
	ClassNeutral    ReputationClass = "neutral"
	ClassTrusted    ReputationClass = "trusted"
	ClassSuspicious ReputationClass = "suspicious"
	ClassSanctioned ReputationClass = "sanctioned"
)

type EvidenceKind string

const (
	EvidenceSanction        EvidenceKind = "sanction"
	EvidenceSanctionRemoval EvidenceKind = "sanction_removal"
	EvidenceSuspicion       EvidenceKind = "suspicion"
	EvidenceTrust           EvidenceKind = "trust"
)

// Evidence is one immutable reputation observation. Weight is the entry's
// contribution in [0,1]; timestamps are part of the payload, so folding the
// evidence set is independent of append order.
type Evidence struct {
	ID        string       `json:"id"`
	Kind      EvidenceKind `json:"kind"`
	Source    string       `json:"source"` // e.g. "sanctions:ofac", "pattern:structuring", "mev:sandwich"
	Weight    float64      `json:"weight"`
	Detail    string       `json:"detail,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// ReputationRecord is the folded view over an address's evidence set.
type ReputationRecord struct {
	ChainID    ChainID         `json:"chain_id"`
	Address    string          `json:"address"`
	Class      ReputationClass `json:"class"`
	Confidence float64         `json:"confidence"` // capped at 1.0
	FirstSeen  time.Time       `json:"first_seen"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Evidence   []Evidence      `json:"evidence,omitempty"`
}
