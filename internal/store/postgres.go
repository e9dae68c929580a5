package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/hooplab/statsync/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies
// it, which keeps the Postgres store unit-testable without a server.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	season      INTEGER NOT NULL,
	scope       JSONB NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	outcome     TEXT,
	sources     JSONB,
	errors      JSONB,
	records     INTEGER NOT NULL DEFAULT 0,
	version     BIGINT NOT NULL DEFAULT 0,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS dataset_versions (
	season  INTEGER PRIMARY KEY,
	version BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS canonical_records (
	entity_key   TEXT NOT NULL,
	season       INTEGER NOT NULL,
	version      BIGINT NOT NULL,
	run_id       TEXT NOT NULL,
	record       JSONB NOT NULL,
	committed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (entity_key, version)
);

CREATE TABLE IF NOT EXISTS source_health (
	source_id  TEXT PRIMARY KEY,
	snapshot   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_season ON runs(season);
CREATE INDEX IF NOT EXISTS idx_canonical_season_version ON canonical_records(season, version);
CREATE INDEX IF NOT EXISTS idx_canonical_run ON canonical_records(run_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.CollectionRun) error {
	scopeJSON, sourcesJSON, errorsJSON, err := marshalRun(run)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, season, scope, status, outcome, sources, errors, records, version, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, run.Scope.Season, scopeJSON, string(run.Status), string(run.Outcome),
		sourcesJSON, errorsJSON, run.Records, run.Version, run.StartedAt, run.FinishedAt,
	)
	return eris.Wrap(err, "postgres: insert run")
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *model.CollectionRun) error {
	_, sourcesJSON, errorsJSON, err := marshalRun(run)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, outcome = $2, sources = $3, errors = $4, records = $5, version = $6, finished_at = $7
		 WHERE id = $8`,
		string(run.Status), string(run.Outcome), sourcesJSON, errorsJSON,
		run.Records, run.Version, run.FinishedAt, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.CollectionRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, scope, status, outcome, sources, errors, records, version, started_at, finished_at
		 FROM runs WHERE id = $1`, runID)
	run, err := scanPgRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return run, err
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.CollectionRun, error) {
	query := `SELECT id, scope, status, outcome, sources, errors, records, version, started_at, finished_at
	          FROM runs WHERE ($1 = '' OR status = $1) AND ($2 = 0 OR season = $2)
	          ORDER BY started_at DESC LIMIT $3 OFFSET $4`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, query, string(filter.Status), filter.Season, limit, filter.Offset)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.CollectionRun
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) CurrentVersion(ctx context.Context, season int) (int64, error) {
	var v int64
	err := s.pool.QueryRow(ctx,
		`SELECT version FROM dataset_versions WHERE season = $1`, season).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return v, eris.Wrap(err, "postgres: current version")
}

func (s *PostgresStore) Commit(ctx context.Context, runID string, season int, base int64, records []model.CanonicalRecord) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin commit")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Seed the season row so the locked read below always has a row to
	// lock; otherwise two first commits for a season could both pass the
	// base-version check.
	if _, err := tx.Exec(ctx,
		`INSERT INTO dataset_versions (season, version) VALUES ($1, 0)
		 ON CONFLICT (season) DO NOTHING`, season,
	); err != nil {
		return 0, eris.Wrap(err, "postgres: seed version row")
	}

	var current int64
	err = tx.QueryRow(ctx,
		`SELECT version FROM dataset_versions WHERE season = $1 FOR UPDATE`, season).Scan(&current)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: read version")
	}
	if current != base {
		return 0, eris.Wrapf(ErrStaleVersion, "season %d: base %d, current %d", season, base, current)
	}

	next := current + 1
	now := time.Now().UTC()
	for _, rec := range records {
		recJSON, err := json.Marshal(rec)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal record")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO canonical_records (entity_key, season, version, run_id, record, committed_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			rec.Key.String(), season, next, runID, recJSON, now,
		); err != nil {
			return 0, eris.Wrapf(err, "postgres: insert record %s", rec.Key.String())
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE dataset_versions SET version = $2 WHERE season = $1`,
		season, next,
	); err != nil {
		return 0, eris.Wrap(err, "postgres: bump version")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit")
	}
	return next, nil
}

func (s *PostgresStore) Query(ctx context.Context, q RecordQuery) ([]model.CanonicalRecord, error) {
	query := `SELECT record, run_id, version FROM canonical_records WHERE season = $1`
	args := []any{q.Season}

	switch {
	case q.RunID != "":
		query += ` AND run_id = $2`
		args = append(args, q.RunID)
	case q.Version > 0:
		query += ` AND version = $2`
		args = append(args, q.Version)
	default:
		current, err := s.CurrentVersion(ctx, q.Season)
		if err != nil {
			return nil, err
		}
		if current == 0 {
			return nil, nil
		}
		query += ` AND version = $2`
		args = append(args, current)
	}
	query += ` ORDER BY entity_key`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query records")
	}
	defer rows.Close()

	var out []model.CanonicalRecord
	for rows.Next() {
		var recJSON []byte
		var runID string
		var version int64
		if err := rows.Scan(&recJSON, &runID, &version); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		var rec model.CanonicalRecord
		if err := json.Unmarshal(recJSON, &rec); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal record")
		}
		rec.RunID = runID
		rec.Version = version
		if matchesQuery(rec, q) {
			out = append(out, rec)
		}
	}
	return out, eris.Wrap(rows.Err(), "postgres: query iterate")
}

func (s *PostgresStore) History(ctx context.Context, key model.EntityKey) ([]model.CanonicalVersion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record, run_id, version, committed_at FROM canonical_records
		 WHERE entity_key = $1 ORDER BY version ASC`,
		key.String(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: history")
	}
	defer rows.Close()

	var out []model.CanonicalVersion
	for rows.Next() {
		var recJSON []byte
		var cv model.CanonicalVersion
		if err := rows.Scan(&recJSON, &cv.RunID, &cv.Version, &cv.CommittedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan history")
		}
		if err := json.Unmarshal(recJSON, &cv.Record); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal history record")
		}
		cv.Record.RunID = cv.RunID
		cv.Record.Version = cv.Version
		out = append(out, cv)
	}
	return out, eris.Wrap(rows.Err(), "postgres: history iterate")
}

func (s *PostgresStore) SaveSourceHealth(ctx context.Context, health []model.SourceHealth) error {
	for _, h := range health {
		snapJSON, err := json.Marshal(h)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal health")
		}
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO source_health (source_id, snapshot, updated_at) VALUES ($1, $2, $3)
			 ON CONFLICT (source_id) DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = EXCLUDED.updated_at`,
			h.SourceID, snapJSON, h.UpdatedAt,
		); err != nil {
			return eris.Wrapf(err, "postgres: save health %s", h.SourceID)
		}
	}
	return nil
}

func (s *PostgresStore) ListSourceHealth(ctx context.Context) ([]model.SourceHealth, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT snapshot FROM source_health ORDER BY source_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list health")
	}
	defer rows.Close()

	var out []model.SourceHealth
	for rows.Next() {
		var snapJSON []byte
		if err := rows.Scan(&snapJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan health")
		}
		var h model.SourceHealth
		if err := json.Unmarshal(snapJSON, &h); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal health")
		}
		out = append(out, h)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list health iterate")
}

func scanPgRun(row pgx.Row) (*model.CollectionRun, error) {
	var r model.CollectionRun
	var scopeJSON []byte
	var outcome *string
	var sourcesJSON, errorsJSON []byte
	var finished *time.Time

	err := row.Scan(&r.ID, &scopeJSON, &r.Status, &outcome, &sourcesJSON, &errorsJSON,
		&r.Records, &r.Version, &r.StartedAt, &finished)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan run")
	}

	if err := json.Unmarshal(scopeJSON, &r.Scope); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal scope")
	}
	if outcome != nil {
		r.Outcome = model.RunOutcome(*outcome)
	}
	if len(sourcesJSON) > 0 {
		if err := json.Unmarshal(sourcesJSON, &r.Sources); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal sources")
		}
	}
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &r.Errors); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal errors")
		}
	}
	r.FinishedAt = finished
	return &r, nil
}
