package model

import (
	"fmt"
	"time"
)

// EntityKey is the canonical identity of a player-season, used to group
// raw records across sources. Name is the normalized player name, Team the
// resolved team code.
type EntityKey struct {
	Name   string `json:"name"`
	Team   string `json:"team"`
	Season int    `json:"season"`
}

// String renders the key in its stable "name|TEAM|season" form, which is
// also the storage key for canonical records.
func (k EntityKey) String() string {
	return fmt.Sprintf("%s|%s|%d", k.Name, k.Team, k.Season)
}

// FieldValue is one reconciled field of a canonical record: the winning
// value, the source it came from, and how well-supported it is.
type FieldValue struct {
	Value      StatValue `json:"value"`
	Source     string    `json:"source"`
	Confidence float64   `json:"confidence"`
	Conflicted bool      `json:"conflicted,omitempty"`
}

// CanonicalRecord is the merged stat line for one EntityKey in one
// committed run version. Mutated only by the reconciler during merge;
// immutable once committed (a later run produces a new version).
type CanonicalRecord struct {
	Key     EntityKey             `json:"key"`
	Player  string                `json:"player"` // display name as reported by the winning source
	Fields  map[string]FieldValue `json:"fields"`
	Sources []string              `json:"sources"` // contributing sources, sorted
	RunID   string                `json:"run_id,omitempty"`
	Version int64                 `json:"version,omitempty"`
}

// Field returns the value for a stat field, or null when the field was
// not reported by any contributing source.
func (r *CanonicalRecord) Field(name string) StatValue {
	if fv, ok := r.Fields[name]; ok {
		return fv.Value
	}
	return Null()
}

// CanonicalVersion identifies one committed snapshot of a record.
type CanonicalVersion struct {
	Record      CanonicalRecord `json:"record"`
	RunID       string          `json:"run_id"`
	Version     int64           `json:"version"`
	CommittedAt time.Time       `json:"committed_at"`
}
