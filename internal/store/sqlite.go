package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/hooplab/statsync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	season      INTEGER NOT NULL,
	scope       TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	outcome     TEXT,
	sources     TEXT,
	errors      TEXT,
	records     INTEGER NOT NULL DEFAULT 0,
	version     INTEGER NOT NULL DEFAULT 0,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS dataset_versions (
	season  INTEGER PRIMARY KEY,
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS canonical_records (
	entity_key   TEXT NOT NULL,
	season       INTEGER NOT NULL,
	version      INTEGER NOT NULL,
	run_id       TEXT NOT NULL,
	record       TEXT NOT NULL,
	committed_at DATETIME NOT NULL,
	PRIMARY KEY (entity_key, version)
);

CREATE TABLE IF NOT EXISTS source_health (
	source_id  TEXT PRIMARY KEY,
	snapshot   TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_season ON runs(season);
CREATE INDEX IF NOT EXISTS idx_canonical_season_version ON canonical_records(season, version);
CREATE INDEX IF NOT EXISTS idx_canonical_run ON canonical_records(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.CollectionRun) error {
	scopeJSON, sourcesJSON, errorsJSON, err := marshalRun(run)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, season, scope, status, outcome, sources, errors, records, version, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Scope.Season, scopeJSON, string(run.Status), string(run.Outcome),
		sourcesJSON, errorsJSON, run.Records, run.Version, run.StartedAt, run.FinishedAt,
	)
	return eris.Wrap(err, "sqlite: insert run")
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *model.CollectionRun) error {
	_, sourcesJSON, errorsJSON, err := marshalRun(run)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, outcome = ?, sources = ?, errors = ?, records = ?, version = ?, finished_at = ?
		 WHERE id = ?`,
		string(run.Status), string(run.Outcome), sourcesJSON, errorsJSON,
		run.Records, run.Version, run.FinishedAt, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run %s", run.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", run.ID)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.CollectionRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, scope, status, outcome, sources, errors, records, version, started_at, finished_at
		 FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return run, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.CollectionRun, error) {
	query := `SELECT id, scope, status, outcome, sources, errors, records, version, started_at, finished_at
	          FROM runs WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Season != 0 {
		query += ` AND season = ?`
		args = append(args, filter.Season)
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.CollectionRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) CurrentVersion(ctx context.Context, season int) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM dataset_versions WHERE season = ?`, season).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, eris.Wrap(err, "sqlite: current version")
}

func (s *SQLiteStore) Commit(ctx context.Context, runID string, season int, base int64, records []model.CanonicalRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin commit")
	}
	defer tx.Rollback() //nolint:errcheck

	var current int64
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM dataset_versions WHERE season = ?`, season).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, eris.Wrap(err, "sqlite: read version")
	}
	if current != base {
		return 0, eris.Wrapf(ErrStaleVersion, "season %d: base %d, current %d", season, base, current)
	}

	next := current + 1
	now := time.Now().UTC()
	for _, rec := range records {
		recJSON, err := json.Marshal(rec)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal record")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO canonical_records (entity_key, season, version, run_id, record, committed_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			rec.Key.String(), season, next, runID, string(recJSON), now,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert record %s", rec.Key.String())
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO dataset_versions (season, version) VALUES (?, ?)
		 ON CONFLICT(season) DO UPDATE SET version = excluded.version`,
		season, next,
	); err != nil {
		return 0, eris.Wrap(err, "sqlite: bump version")
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit")
	}
	return next, nil
}

func (s *SQLiteStore) Query(ctx context.Context, q RecordQuery) ([]model.CanonicalRecord, error) {
	query := `SELECT record, run_id, version FROM canonical_records WHERE season = ?`
	args := []any{q.Season}

	switch {
	case q.RunID != "":
		query += ` AND run_id = ?`
		args = append(args, q.RunID)
	case q.Version > 0:
		query += ` AND version = ?`
		args = append(args, q.Version)
	default:
		current, err := s.CurrentVersion(ctx, q.Season)
		if err != nil {
			return nil, err
		}
		if current == 0 {
			return nil, nil
		}
		query += ` AND version = ?`
		args = append(args, current)
	}
	query += ` ORDER BY entity_key`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query records")
	}
	defer rows.Close()

	var out []model.CanonicalRecord
	for rows.Next() {
		var recJSON, runID string
		var version int64
		if err := rows.Scan(&recJSON, &runID, &version); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		var rec model.CanonicalRecord
		if err := json.Unmarshal([]byte(recJSON), &rec); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal record")
		}
		rec.RunID = runID
		rec.Version = version
		if matchesQuery(rec, q) {
			out = append(out, rec)
		}
	}
	return out, eris.Wrap(rows.Err(), "sqlite: query iterate")
}

func (s *SQLiteStore) History(ctx context.Context, key model.EntityKey) ([]model.CanonicalVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record, run_id, version, committed_at FROM canonical_records
		 WHERE entity_key = ? ORDER BY version ASC`,
		key.String(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: history")
	}
	defer rows.Close()

	var out []model.CanonicalVersion
	for rows.Next() {
		var recJSON string
		var cv model.CanonicalVersion
		if err := rows.Scan(&recJSON, &cv.RunID, &cv.Version, &cv.CommittedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan history")
		}
		if err := json.Unmarshal([]byte(recJSON), &cv.Record); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal history record")
		}
		cv.Record.RunID = cv.RunID
		cv.Record.Version = cv.Version
		out = append(out, cv)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: history iterate")
}

func (s *SQLiteStore) SaveSourceHealth(ctx context.Context, health []model.SourceHealth) error {
	for _, h := range health {
		snapJSON, err := json.Marshal(h)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal health")
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO source_health (source_id, snapshot, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(source_id) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
			h.SourceID, string(snapJSON), h.UpdatedAt,
		); err != nil {
			return eris.Wrapf(err, "sqlite: save health %s", h.SourceID)
		}
	}
	return nil
}

func (s *SQLiteStore) ListSourceHealth(ctx context.Context) ([]model.SourceHealth, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT snapshot FROM source_health ORDER BY source_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list health")
	}
	defer rows.Close()

	var out []model.SourceHealth
	for rows.Next() {
		var snapJSON string
		if err := rows.Scan(&snapJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan health")
		}
		var h model.SourceHealth
		if err := json.Unmarshal([]byte(snapJSON), &h); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal health")
		}
		out = append(out, h)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list health iterate")
}

// helpers

func marshalRun(run *model.CollectionRun) (scope, sources, errs string, err error) {
	scopeJSON, err := json.Marshal(run.Scope)
	if err != nil {
		return "", "", "", eris.Wrap(err, "marshal scope")
	}
	sourcesJSON, err := json.Marshal(run.Sources)
	if err != nil {
		return "", "", "", eris.Wrap(err, "marshal sources")
	}
	errorsJSON, err := json.Marshal(run.Errors)
	if err != nil {
		return "", "", "", eris.Wrap(err, "marshal errors")
	}
	return string(scopeJSON), string(sourcesJSON), string(errorsJSON), nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.CollectionRun, error) {
	var r model.CollectionRun
	var scopeJSON string
	var outcome, sourcesJSON, errorsJSON sql.NullString
	var finished sql.NullTime

	err := row.Scan(&r.ID, &scopeJSON, &r.Status, &outcome, &sourcesJSON, &errorsJSON,
		&r.Records, &r.Version, &r.StartedAt, &finished)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if err := json.Unmarshal([]byte(scopeJSON), &r.Scope); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal scope")
	}
	if outcome.Valid {
		r.Outcome = model.RunOutcome(outcome.String)
	}
	if sourcesJSON.Valid && sourcesJSON.String != "" {
		if err := json.Unmarshal([]byte(sourcesJSON.String), &r.Sources); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal sources")
		}
	}
	if errorsJSON.Valid && errorsJSON.String != "" && errorsJSON.String != "null" {
		if err := json.Unmarshal([]byte(errorsJSON.String), &r.Errors); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal errors")
		}
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}
