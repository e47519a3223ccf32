package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run not found")

// RunStatus mirrors the enrichment_runs status column.
type RunStatus string

// Run statuses.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// ParseRunStatus validates a status filter.
func ParseRunStatus(raw string) (RunStatus, bool) {
	switch s := RunStatus(raw); s {
	case RunRunning, RunSuccess, RunError:
		return s, true
	default:
		return "", false
	}
}

// Run is one batch orchestrator invocation.
type Run struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	// Total is the number of records submitted.
	Total int
	// Succeeded, Failed and Fallbacks are summed over the run's sites.
	Succeeded    int64
	Failed       int64
	Fallbacks    int64
	ErrorMessage *string
}

// SiteDelta is an increment to a run's per-site counters.
type SiteDelta struct {
	Succeeded int64
	Failed    int64
	Fallbacks int64
}

// Empty reports whether the delta changes nothing.
func (d SiteDelta) Empty() bool {
	return d.Succeeded == 0 && d.Failed == 0 && d.Fallbacks == 0
}

// SiteStats aggregates record outcomes per host within a run.
type SiteStats struct {
	RunID      uuid.UUID
	Site       string
	LastUpdate time.Time
	Succeeded  int64
	Failed     int64
	Fallbacks  int64
}

// RunRepository persists batch runs and their per-site counters.
type RunRepository interface {
	// UpsertRunStart records a run as running. Repeating it is harmless.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time, total int) error
	// CompleteRun marks the run finished.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// AddSiteStats applies delta to the (run, site) counters.
	AddSiteStats(ctx context.Context, runID uuid.UUID, site string, delta SiteDelta, at time.Time) error

	// GetRun loads one run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs newest first, optionally filtered by status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
	// ListRunSites returns the per-site counters of one run.
	ListRunSites(ctx context.Context, runID uuid.UUID, limit, offset int) ([]SiteStats, error)
}
