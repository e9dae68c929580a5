package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hooplab/statsync/internal/model"
)

func init() {
	// Replace global logger with a no-op to avoid nil pointer panics in tests.
	zap.ReplaceGlobals(zap.NewNop())
}

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock}, mock
}

func TestPostgresMigrate(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS runs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCurrentVersion(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT version FROM dataset_versions").
		WithArgs(2024).
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(int64(3)))

	v, err := st.CurrentVersion(context.Background(), 2024)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCurrentVersionUnseen(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT version FROM dataset_versions").
		WithArgs(1999).
		WillReturnError(pgx.ErrNoRows)

	// A season with no committed dataset reads as version zero.
	v, err := st.CurrentVersion(context.Background(), 1999)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCommit(t *testing.T) {
	st, mock := newMockStore(t)
	rec := canonical("jayson tatum", "BOS", 2024, 26.9)

	// The season row is seeded before the locked read so a first commit
	// still takes the row lock.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO dataset_versions").
		WithArgs(2024).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT version FROM dataset_versions").
		WithArgs(2024).
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(int64(0)))
	mock.ExpectExec("INSERT INTO canonical_records").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE dataset_versions").
		WithArgs(2024, int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	v, err := st.Commit(context.Background(), "run-1", 2024, 0, []model.CanonicalRecord{rec})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCommitStaleBase(t *testing.T) {
	st, mock := newMockStore(t)
	rec := canonical("jayson tatum", "BOS", 2024, 26.9)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO dataset_versions").
		WithArgs(2024).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("SELECT version FROM dataset_versions").
		WithArgs(2024).
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(int64(2)))
	mock.ExpectRollback()

	// Base 0 against current 2: nothing may be written.
	_, err := st.Commit(context.Background(), "run-2", 2024, 0, []model.CanonicalRecord{rec})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStaleVersion))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetRunNotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM runs").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := st.GetRun(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateRunNotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("UPDATE runs SET").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := st.UpdateRun(context.Background(), testRun("ghost", 2024))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListRuns(t *testing.T) {
	st, mock := newMockStore(t)

	started := time.Date(2024, 11, 2, 8, 0, 0, 0, time.UTC)
	scopeJSON, err := json.Marshal(model.Scope{Season: 2024, Sources: []string{"ref"}})
	require.NoError(t, err)
	sourcesJSON, err := json.Marshal(map[string]model.SourceResult{
		"ref": {Status: model.SourceSucceeded, Fetched: 500, Accepted: 498},
	})
	require.NoError(t, err)

	cols := []string{"id", "scope", "status", "outcome", "sources", "errors",
		"records", "version", "started_at", "finished_at"}
	// The outcome column is nullable and scanned through a *string, so the
	// mock row must carry a pointer for pgxmock to assign it.
	outcome := "committed"
	mock.ExpectQuery("SELECT (.+) FROM runs").
		WithArgs("succeeded", 2024, 100, 0).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			"run-1", scopeJSON, "succeeded", &outcome, sourcesJSON, nil,
			498, int64(1), started, nil,
		))

	runs, err := st.ListRuns(context.Background(), RunFilter{Status: model.RunSucceeded, Season: 2024})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.Equal(t, model.RunSucceeded, runs[0].Status)
	assert.Equal(t, model.OutcomeCommitted, runs[0].Outcome)
	assert.Equal(t, 2024, runs[0].Scope.Season)
	assert.Equal(t, 498, runs[0].Sources["ref"].Accepted)
	assert.Nil(t, runs[0].FinishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueryLatestVersion(t *testing.T) {
	st, mock := newMockStore(t)

	rec := canonical("jayson tatum", "BOS", 2024, 26.9)
	recJSON, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT version FROM dataset_versions").
		WithArgs(2024).
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(int64(2)))
	mock.ExpectQuery("SELECT record, run_id, version FROM canonical_records").
		WithArgs(2024, int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"record", "run_id", "version"}).
			AddRow(recJSON, "run-2", int64(2)))

	recs, err := st.Query(context.Background(), RecordQuery{Season: 2024})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "run-2", recs[0].RunID)
	assert.Equal(t, int64(2), recs[0].Version)
	pts, _ := recs[0].Field(model.StatPTS).Float()
	assert.Equal(t, 26.9, pts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveSourceHealth(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec("INSERT INTO source_health").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := st.SaveSourceHealth(context.Background(), []model.SourceHealth{
		{SourceID: "ref", SuccessRate: 0.85, WindowSize: 20, UpdatedAt: now},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
