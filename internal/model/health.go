package model

import "time"

// SourceHealth is a point-in-time snapshot of a source's recent behavior.
// It is rebuilt from the rolling outcome window kept by the rate-limit
// gate; persistence is best effort.
type SourceHealth struct {
	SourceID    string     `json:"source_id"`
	SuccessRate float64    `json:"success_rate"` // over the trailing window; 1.0 when empty
	WindowSize  int        `json:"window_size"`
	Open        bool       `json:"open"` // circuit open: acquisitions short-circuit
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastFailure *time.Time `json:"last_failure,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
