package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/hooplab/statsync/internal/model"
	"github.com/hooplab/statsync/internal/store"
)

// MetricsSnapshot holds a point-in-time view of collection health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal     int     `json:"runs_total"`
	RunsSucceeded int     `json:"runs_succeeded"`
	RunsPartial   int     `json:"runs_partial"`
	RunsFailed    int     `json:"runs_failed"`
	RunsActive    int     `json:"runs_active"`
	RunFailRate   float64 `json:"run_fail_rate"`

	// Error tallies across runs in the window.
	Conflicts  int `json:"conflicts"`
	Rejections int `json:"rejections"`

	// Records committed in the window.
	RecordsCommitted int `json:"records_committed"`

	// Source health at collection time.
	OpenCircuits []string `json:"open_circuits,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of run and source metrics over the given
// lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, store.RunFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	for _, r := range runs {
		if r.StartedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch r.Status {
		case model.RunSucceeded:
			snap.RunsSucceeded++
		case model.RunPartial:
			snap.RunsPartial++
		case model.RunFailed:
			snap.RunsFailed++
		default:
			snap.RunsActive++
		}
		if r.Outcome == model.OutcomeCommitted {
			snap.RecordsCommitted += r.Records
		}
		for _, e := range r.Errors {
			switch e.Kind {
			case model.ErrConflict:
				snap.Conflicts++
			case model.ErrRejection:
				snap.Rejections++
			}
		}
	}

	finished := snap.RunsSucceeded + snap.RunsPartial + snap.RunsFailed
	if finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}

	health, err := c.store.ListSourceHealth(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list source health")
	}
	for _, h := range health {
		if h.Open {
			snap.OpenCircuits = append(snap.OpenCircuits, h.SourceID)
		}
	}

	return snap, nil
}
