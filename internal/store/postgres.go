package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/miljoportal/tilstand/internal/db"
	"github.com/miljoportal/tilstand/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool, used by tests.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	status     TEXT NOT NULL DEFAULT 'running',
	error      TEXT,
	inputs     JSONB NOT NULL,
	counts     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS segment_summaries (
	run_id               TEXT NOT NULL REFERENCES runs(id),
	segment_fid          INTEGER NOT NULL,
	segment_ref          TEXT NOT NULL,
	total_flux_kg_yr     DOUBLE PRECISION NOT NULL,
	max_cmix_ug_l        DOUBLE PRECISION,
	max_exceedance_ratio DOUBLE PRECISION,
	has_exceedance       BOOLEAN NOT NULL,
	data                 JSONB NOT NULL,
	PRIMARY KEY (run_id, segment_fid)
);

CREATE TABLE IF NOT EXISTS site_exceedances (
	run_id           TEXT NOT NULL REFERENCES runs(id),
	site_id          TEXT NOT NULL,
	segment_fid      INTEGER NOT NULL,
	category         TEXT NOT NULL,
	scenario         TEXT NOT NULL,
	flow_scenario    TEXT NOT NULL,
	exceedance_ratio DOUBLE PRECISION NOT NULL,
	data             JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_summaries_run ON segment_summaries(run_id);
CREATE INDEX IF NOT EXISTS idx_exceedances_run ON site_exceedances(run_id);
CREATE INDEX IF NOT EXISTS idx_exceedances_site ON site_exceedances(site_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, inputs model.RunInputs) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	inputsJSON, err := json.Marshal(inputs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal inputs")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, inputs, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, string(model.RunStatusRunning), inputsJSON, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Status:    model.RunStatusRunning,
		Inputs:    inputs,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, counts model.RunCounts) error {
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal counts")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, counts = $2, updated_at = $3 WHERE id = $4`,
		string(model.RunStatusCompleted), countsJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, cause string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(model.RunStatusFailed), cause, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var errMsg *string
	var inputsJSON []byte
	var countsJSON *[]byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, status, error, inputs, counts, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.Status, &errMsg, &inputsJSON, &countsJSON, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if errMsg != nil {
		r.Error = *errMsg
	}
	if err := json.Unmarshal(inputsJSON, &r.Inputs); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal inputs")
	}
	if countsJSON != nil {
		if err := json.Unmarshal(*countsJSON, &r.Counts); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal counts")
		}
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, status, error, inputs, counts, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var errMsg *string
		var inputsJSON []byte
		var countsJSON *[]byte

		if err := rows.Scan(&r.ID, &r.Status, &errMsg, &inputsJSON, &countsJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if errMsg != nil {
			r.Error = *errMsg
		}
		if err := json.Unmarshal(inputsJSON, &r.Inputs); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal inputs")
		}
		if countsJSON != nil {
			if err := json.Unmarshal(*countsJSON, &r.Counts); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal counts")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// SaveSummaries bulk-loads segment summaries with the COPY protocol.
func (s *PostgresStore) SaveSummaries(ctx context.Context, runID string, rows []model.SegmentSummary) error {
	copyRows := make([][]any, 0, len(rows))
	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal summary")
		}
		copyRows = append(copyRows, []any{
			runID, row.SegmentFID, row.SegmentRef, row.TotalFluxKgYr,
			pgNullFloat(row.MaxCmixUgL, row.HasCmix),
			pgNullFloat(row.MaxExceedanceRatio, row.HasRatio),
			row.HasExceedance, data,
		})
	}

	_, err := db.CopyFrom(ctx, s.pool, "segment_summaries",
		[]string{"run_id", "segment_fid", "segment_ref", "total_flux_kg_yr", "max_cmix_ug_l", "max_exceedance_ratio", "has_exceedance", "data"},
		copyRows,
	)
	return eris.Wrap(err, "postgres: save summaries")
}

// SaveExceedances bulk-loads the site exceedance view with the COPY protocol.
func (s *PostgresStore) SaveExceedances(ctx context.Context, runID string, rows []model.SiteExceedance) error {
	copyRows := make([][]any, 0, len(rows))
	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal exceedance")
		}
		copyRows = append(copyRows, []any{
			runID, row.SiteID, row.SegmentFID, row.Category, row.Scenario,
			row.FlowScenario, row.ExceedanceRatio, data,
		})
	}

	_, err := db.CopyFrom(ctx, s.pool, "site_exceedances",
		[]string{"run_id", "site_id", "segment_fid", "category", "scenario", "flow_scenario", "exceedance_ratio", "data"},
		copyRows,
	)
	return eris.Wrap(err, "postgres: save exceedances")
}

func pgNullFloat(v float64, has bool) any {
	if !has {
		return nil
	}
	return v
}

// IsNotFound reports whether an error is the pgx no-rows condition.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
