package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/miljoportal/tilstand/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
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
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'running',
	error      TEXT,
	inputs     TEXT NOT NULL,
	counts     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS segment_summaries (
	run_id               TEXT NOT NULL REFERENCES runs(id),
	segment_fid          INTEGER NOT NULL,
	segment_ref          TEXT NOT NULL,
	total_flux_kg_yr     REAL NOT NULL,
	max_cmix_ug_l        REAL,
	max_exceedance_ratio REAL,
	has_exceedance       INTEGER NOT NULL,
	data                 TEXT NOT NULL,
	PRIMARY KEY (run_id, segment_fid)
);

CREATE TABLE IF NOT EXISTS site_exceedances (
	run_id           TEXT NOT NULL REFERENCES runs(id),
	site_id          TEXT NOT NULL,
	segment_fid      INTEGER NOT NULL,
	category         TEXT NOT NULL,
	scenario         TEXT NOT NULL,
	flow_scenario    TEXT NOT NULL,
	exceedance_ratio REAL NOT NULL,
	data             TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_summaries_run ON segment_summaries(run_id);
CREATE INDEX IF NOT EXISTS idx_exceedances_run ON site_exceedances(run_id);
CREATE INDEX IF NOT EXISTS idx_exceedances_site ON site_exceedances(site_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, inputs model.RunInputs) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	inputsJSON, err := json.Marshal(inputs)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal inputs")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, inputs, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(model.RunStatusRunning), string(inputsJSON), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Status:    model.RunStatusRunning,
		Inputs:    inputs,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, counts model.RunCounts) error {
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal counts")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, counts = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusCompleted), string(countsJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, cause string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), cause, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, error, inputs, counts, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, status, error, inputs, counts, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

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

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveSummaries(ctx context.Context, runID string, rows []model.SegmentSummary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin summaries")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO segment_summaries
		 (run_id, segment_fid, segment_ref, total_flux_kg_yr, max_cmix_ug_l, max_exceedance_ratio, has_exceedance, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare summaries")
	}
	defer stmt.Close() //nolint:errcheck

	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal summary")
		}
		if _, err := stmt.ExecContext(ctx,
			runID, row.SegmentFID, row.SegmentRef, row.TotalFluxKgYr,
			nullFloat(row.MaxCmixUgL, row.HasCmix),
			nullFloat(row.MaxExceedanceRatio, row.HasRatio),
			row.HasExceedance, string(data),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert summary fid %d", row.SegmentFID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit summaries")
}

func (s *SQLiteStore) SaveExceedances(ctx context.Context, runID string, rows []model.SiteExceedance) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin exceedances")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO site_exceedances
		 (run_id, site_id, segment_fid, category, scenario, flow_scenario, exceedance_ratio, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare exceedances")
	}
	defer stmt.Close() //nolint:errcheck

	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal exceedance")
		}
		if _, err := stmt.ExecContext(ctx,
			runID, row.SiteID, row.SegmentFID, row.Category, row.Scenario,
			row.FlowScenario, row.ExceedanceRatio, string(data),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert exceedance site %s", row.SiteID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit exceedances")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func nullFloat(v float64, has bool) any {
	if !has {
		return nil
	}
	return v
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var errMsg sql.NullString
	var inputsJSON string
	var countsJSON sql.NullString

	err := row.Scan(&r.ID, &r.Status, &errMsg, &inputsJSON, &countsJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	r.Error = errMsg.String
	if err := json.Unmarshal([]byte(inputsJSON), &r.Inputs); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal inputs")
	}
	if countsJSON.Valid && strings.TrimSpace(countsJSON.String) != "" {
		if err := json.Unmarshal([]byte(countsJSON.String), &r.Counts); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal counts")
		}
	}
	return &r, nil
}
