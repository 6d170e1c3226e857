// Package store persists assessment runs and their headline result tables.
// Two backends exist: SQLite for single-machine use and PostgreSQL for a
// shared result database.
package store

import (
	"context"

	"github.com/miljoportal/tilstand/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for assessment runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, inputs model.RunInputs) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, counts model.RunCounts) error
	FailRun(ctx context.Context, runID string, cause string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Result tables
	SaveSummaries(ctx context.Context, runID string, rows []model.SegmentSummary) error
	SaveExceedances(ctx context.Context, runID string, rows []model.SiteExceedance) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
