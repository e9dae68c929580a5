// Package store persists canonical records, run history, and source
// health. Canonical data is append-only and versioned per season;
// commits carry an optimistic base-version check so overlapping runs can
// never interleave writes.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/hooplab/statsync/internal/model"
)

// ErrStaleVersion is returned by Commit when the season's current
// version no longer matches the caller's base version.
var ErrStaleVersion = eris.New("commit conflict: stale base version")

// ErrNotFound is returned for missing runs or records.
var ErrNotFound = eris.New("not found")

// RunFilter narrows ListRuns.
type RunFilter struct {
	Status model.RunStatus
	Season int
	Limit  int
	Offset int
}

// RecordQuery selects canonical records. With neither RunID nor Version
// set, the latest committed version for the season is used. MinMinutes
// and MinGames apply the eligibility filter downstream consumers expect
// (original defaults: 10 minutes, 20 games).
type RecordQuery struct {
	Season     int
	Team       string
	Player     string // matched against the normalized entity name
	RunID      string // address a specific run's snapshot
	Version    int64  // address a specific committed version
	MinMinutes float64
	MinGames   float64
}

// Store is the persistence interface for the collection pipeline.
type Store interface {
	// CreateRun persists a new run in its initial state.
	CreateRun(ctx context.Context, run *model.CollectionRun) error
	// UpdateRun overwrites a run's mutable state. The coordinator is the
	// only caller.
	UpdateRun(ctx context.Context, run *model.CollectionRun) error
	GetRun(ctx context.Context, runID string) (*model.CollectionRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.CollectionRun, error)

	// CurrentVersion returns the latest committed version for a season,
	// or 0 when nothing has been committed.
	CurrentVersion(ctx context.Context, season int) (int64, error)
	// Commit atomically writes all canonical records for a run as
	// version base+1. Returns ErrStaleVersion when base no longer
	// matches the season's current version.
	Commit(ctx context.Context, runID string, season int, base int64, records []model.CanonicalRecord) (int64, error)
	Query(ctx context.Context, q RecordQuery) ([]model.CanonicalRecord, error)
	// History returns every committed version of one entity, oldest
	// first.
	History(ctx context.Context, key model.EntityKey) ([]model.CanonicalVersion, error)

	// Source health persistence is best effort; the gate's rolling
	// window is the authority while the process lives.
	SaveSourceHealth(ctx context.Context, health []model.SourceHealth) error
	ListSourceHealth(ctx context.Context) ([]model.SourceHealth, error)

	Migrate(ctx context.Context) error
	Close() error
}

// matchesQuery applies the in-memory filters shared by both backends.
func matchesQuery(rec model.CanonicalRecord, q RecordQuery) bool {
	if q.Team != "" && rec.Key.Team != q.Team {
		return false
	}
	if q.Player != "" && rec.Key.Name != q.Player {
		return false
	}
	if q.MinMinutes > 0 {
		mp, ok := rec.Field(model.StatMinutes).Float()
		if !ok || mp < q.MinMinutes {
			return false
		}
	}
	if q.MinGames > 0 {
		g, ok := rec.Field(model.StatGames).Float()
		if !ok || g < q.MinGames {
			return false
		}
	}
	return true
}
