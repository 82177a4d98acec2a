package storage

import (
	"context"

	"immunosim/internal/model"
)

// Store persists simulation runs and their per-run records.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	// ListRuns returns runs ordered by start time, then id.
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveTickDiagnostics(ctx context.Context, runID string, diagnostics []model.TickDiagnostics) error
	GetTickDiagnostics(ctx context.Context, runID string) ([]model.TickDiagnostics, bool, error)
	SaveCrossings(ctx context.Context, runID string, crossings []model.CrossingRecord) error
	GetCrossings(ctx context.Context, runID string) ([]model.CrossingRecord, bool, error)
	SaveAgentSummaries(ctx context.Context, runID string, summaries []model.AgentSummary) error
	GetAgentSummaries(ctx context.Context, runID string) ([]model.AgentSummary, bool, error)
}
