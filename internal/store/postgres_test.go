package store

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miljoportal/tilstand/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	return NewPostgresWithPool(mock), mock
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), string(model.RunStatusRunning), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), testInputs())
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusRunning, run.Status)
	assert.Equal(t, testInputs(), run.Inputs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs(string(model.RunStatusCompleted), pgxmock.AnyArg(), pgxmock.AnyArg(), "no-such-run").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteRun(context.Background(), "no-such-run", model.RunCounts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs(string(model.RunStatusFailed), "missing geometry", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.FailRun(context.Background(), "run-1", "missing geometry"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, status, error, inputs, counts, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveSummaries_Copy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"segment_summaries"},
		[]string{"run_id", "segment_fid", "segment_ref", "total_flux_kg_yr", "max_cmix_ug_l", "max_exceedance_ratio", "has_exceedance", "data"}).
		WillReturnResult(2)

	err := s.SaveSummaries(context.Background(), "run-1", []model.SegmentSummary{
		{SegmentFID: 4, SegmentRef: "riv_0004", TotalFluxKgYr: 0.5, MaxCmixUgL: 20, HasCmix: true},
		{SegmentFID: 7, SegmentRef: "riv_0007", TotalFluxKgYr: 0.1},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveExceedances_Copy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"site_exceedances"},
		[]string{"run_id", "site_id", "segment_fid", "category", "scenario", "flow_scenario", "exceedance_ratio", "data"}).
		WillReturnResult(1)

	err := s.SaveExceedances(context.Background(), "run-1", []model.SiteExceedance{
		{
			FluxRecord: model.FluxRecord{
				SiteID: "123-00001", SegmentFID: 4,
				Category: "BTXER", Scenario: "BTXER__via_Benzen",
			},
			FlowScenario:    "Q95",
			ExceedanceRatio: 2,
		},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
