package model

import "time"

// RunStatus is the lifecycle state of a collection run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the status is final. Terminal runs are never
// reopened.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunPartial || s == RunFailed
}

// RunOutcome records whether a terminal run's data reached the store.
type RunOutcome string

const (
	OutcomeCommitted RunOutcome = "committed"
	OutcomeAborted   RunOutcome = "aborted"
)

// SourceStatus is the per-source state within one run.
type SourceStatus string

const (
	SourcePending   SourceStatus = "pending"
	SourceRunning   SourceStatus = "running"
	SourceSucceeded SourceStatus = "succeeded"
	SourceFailed    SourceStatus = "failed"
	SourcePartial   SourceStatus = "partial"
)

// ErrorKind categorizes an aggregated run error.
type ErrorKind string

const (
	ErrTransient   ErrorKind = "transient"
	ErrRateLimited ErrorKind = "rate_limited"
	ErrPermanent   ErrorKind = "permanent"
	ErrParse       ErrorKind = "parse"
	ErrRejection   ErrorKind = "validation_rejection"
	ErrConflict    ErrorKind = "reconciliation_conflict"
	ErrCommit      ErrorKind = "commit_conflict"
	ErrCancelled   ErrorKind = "cancelled"
	ErrDeadline    ErrorKind = "deadline"
	ErrUnavailable ErrorKind = "source_unavailable"
)

// RunError is one aggregated error. Per-record and per-source failures
// collect here instead of being raised to callers; only run-level failure
// surfaces through the trigger interface.
type RunError struct {
	Kind    ErrorKind `json:"kind"`
	Source  string    `json:"source,omitempty"`
	Unit    string    `json:"unit,omitempty"`
	Field   string    `json:"field,omitempty"`
	Entity  string    `json:"entity,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Scope is the set of entities and season requested for a run.
type Scope struct {
	Season   int      `json:"season"`
	Entities []string `json:"entities,omitempty"` // optional player-name subset
	Sources  []string `json:"sources,omitempty"`  // optional source subset; empty = all configured
}

// SourceResult summarizes one source's contribution to a run.
type SourceResult struct {
	Status   SourceStatus `json:"status"`
	Fetched  int          `json:"fetched"`
	Accepted int          `json:"accepted"`
	Repaired int          `json:"repaired"`
	Rejected int          `json:"rejected"`
	Skipped  int          `json:"skipped_units"`
	Attempts int          `json:"attempts"`
}

// CollectionRun is the durable record of one collection run. Created by
// the coordinator at start and mutated only by it until terminal.
type CollectionRun struct {
	ID         string                  `json:"id"`
	Scope      Scope                   `json:"scope"`
	Status     RunStatus               `json:"status"`
	Outcome    RunOutcome              `json:"outcome,omitempty"`
	Sources    map[string]SourceResult `json:"sources"`
	Errors     []RunError              `json:"errors,omitempty"`
	Records    int                     `json:"records"` // canonical records committed
	Version    int64                   `json:"version,omitempty"`
	StartedAt  time.Time               `json:"started_at"`
	FinishedAt *time.Time              `json:"finished_at,omitempty"`
}
