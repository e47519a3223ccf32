package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/course-enricher/internal/store"
)

// RunSchema creates the run tables.
const RunSchema = `
CREATE TABLE IF NOT EXISTS enrichment_runs (
	id            uuid PRIMARY KEY,
	started_at    timestamptz NOT NULL,
	finished_at   timestamptz,
	status        text NOT NULL,
	total         integer NOT NULL DEFAULT 0,
	error_message text
);
CREATE TABLE IF NOT EXISTS enrichment_run_sites (
	run_id      uuid NOT NULL REFERENCES enrichment_runs (id) ON DELETE CASCADE,
	site        text NOT NULL,
	last_update timestamptz NOT NULL,
	succeeded   bigint NOT NULL DEFAULT 0,
	failed      bigint NOT NULL DEFAULT 0,
	fallbacks   bigint NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, site)
);`

// RunStore implements store.RunRepository on Postgres.
type RunStore struct {
	pool dbPool
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore opens a pool for dsn.
func NewRunStore(ctx context.Context, cfg PoolConfig) (*RunStore, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: pool}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool dbPool) (*RunStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (s *RunStore) Close() {
	s.pool.Close()
}

// EnsureSchema creates the run tables when missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, RunSchema); err != nil {
		return fmt.Errorf("create run schema: %w", err)
	}
	return nil
}

// UpsertRunStart inserts a run in running state.
func (s *RunStore) UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time, total int) error {
	query := `
		INSERT INTO enrichment_runs (id, started_at, status, total)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET total = EXCLUDED.total
		WHERE enrichment_runs.status = EXCLUDED.status;
	`
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, store.RunRunning, total); err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := `
		UPDATE enrichment_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;
	`
	res, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, runID)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AddSiteStats adds delta to the (run, site) counters in one statement.
func (s *RunStore) AddSiteStats(
	ctx context.Context,
	runID uuid.UUID,
	site string,
	delta store.SiteDelta,
	at time.Time,
) error {
	if delta.Empty() {
		return nil
	}
	query := `
		INSERT INTO enrichment_run_sites (run_id, site, last_update, succeeded, failed, fallbacks)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id, site) DO UPDATE
		SET last_update = EXCLUDED.last_update,
			succeeded = enrichment_run_sites.succeeded + EXCLUDED.succeeded,
			failed = enrichment_run_sites.failed + EXCLUDED.failed,
			fallbacks = enrichment_run_sites.fallbacks + EXCLUDED.fallbacks;
	`
	_, err := s.pool.Exec(ctx, query, runID, site, at, delta.Succeeded, delta.Failed, delta.Fallbacks)
	if err != nil {
		return fmt.Errorf("add site stats: %w", err)
	}
	return nil
}

const runColumns = `
	r.id, r.started_at, r.finished_at, r.status, r.total, r.error_message,
	COALESCE(SUM(s.succeeded), 0), COALESCE(SUM(s.failed), 0), COALESCE(SUM(s.fallbacks), 0)`

// GetRun retrieves one run with its summed counters.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := `SELECT` + runColumns + `
		FROM enrichment_runs r
		LEFT JOIN enrichment_run_sites s ON s.run_id = r.id
		WHERE r.id = $1
		GROUP BY r.id;
	`
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally filtered by status.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	query := `SELECT` + runColumns + `
		FROM enrichment_runs r
		LEFT JOIN enrichment_run_sites s ON s.run_id = r.id
		WHERE ($1::text IS NULL OR r.status = $1)
		GROUP BY r.id
		ORDER BY r.started_at DESC
		LIMIT $2 OFFSET $3;
	`
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	rows, err := s.pool.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []store.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// ListRunSites returns the per-site counters of one run, busiest first.
func (s *RunStore) ListRunSites(ctx context.Context, runID uuid.UUID, limit, offset int) ([]store.SiteStats, error) {
	query := `
		SELECT run_id, site, last_update, succeeded, failed, fallbacks
		FROM enrichment_run_sites
		WHERE run_id = $1
		ORDER BY (succeeded + failed) DESC, site
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list run sites: %w", err)
	}
	defer rows.Close()

	stats := []store.SiteStats{}
	for rows.Next() {
		var stat store.SiteStats
		if err := rows.Scan(
			&stat.RunID,
			&stat.Site,
			&stat.LastUpdate,
			&stat.Succeeded,
			&stat.Failed,
			&stat.Fallbacks,
		); err != nil {
			return nil, fmt.Errorf("scan site stats row: %w", err)
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list run sites: %w", err)
	}
	return stats, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run    store.Run
		status string
	)
	err := row.Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.Total,
		&run.ErrorMessage,
		&run.Succeeded,
		&run.Failed,
		&run.Fallbacks,
	)
	run.Status = store.RunStatus(status)
	return run, err
}
