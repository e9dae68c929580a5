package model

import "time"

// RawKey is the entity identity exactly as a source reported it, before
// any canonicalization.
type RawKey struct {
	Player string `json:"player"`
	Team   string `json:"team"`
	Season int    `json:"season"`
}

// RawRecord is one player-season stat line as fetched from a single
// source. Field values stay loosely typed until validation. A RawRecord
// is immutable once produced by an adapter.
type RawRecord struct {
	Source    string               `json:"source"`
	Key       RawKey               `json:"key"`
	Fields    map[string]StatValue `json:"fields"`
	FetchedAt time.Time            `json:"fetched_at"`
}

// ValidationStatus classifies a validated record.
type ValidationStatus string

const (
	// ValidationAccepted means the record passed all rules unchanged.
	ValidationAccepted ValidationStatus = "accepted"
	// ValidationRepaired means one or more out-of-range fields were
	// cleared but the record remains usable.
	ValidationRepaired ValidationStatus = "repaired"
	// ValidationRejected means the record is excluded from reconciliation.
	ValidationRejected ValidationStatus = "rejected"
)

// Violation records a single rule failure on a field.
type Violation struct {
	Field    string `json:"field"`
	Rule     string `json:"rule"`
	Observed string `json:"observed"`
}

// ValidationOutcome wraps a RawRecord with its validation result. For
// repaired records, Record holds the repaired field map (offending values
// cleared to null) and Repaired lists the fields that were cleared.
type ValidationOutcome struct {
	Record     RawRecord        `json:"record"`
	Status     ValidationStatus `json:"status"`
	Violations []Violation      `json:"violations,omitempty"`
	Repaired   []string         `json:"repaired,omitempty"`
}
