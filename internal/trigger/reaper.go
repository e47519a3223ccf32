package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/course-enricher/internal/catalog"
	"github.com/JakeFAU/course-enricher/internal/enrich"
	"github.com/JakeFAU/course-enricher/internal/metrics"
)

// Reaper defaults.
const (
	DefaultReaperInterval = time.Minute
	DefaultReaperGrace    = 30 * time.Second
)

// ReaperConfig controls the sweep.
type ReaperConfig struct {
	Interval time.Duration
	Budget   time.Duration
	Grace    time.Duration
}

// Reaper moves records stuck in SCRAPING to ERROR. A record is stuck when it
// started more than Budget+Grace ago, or carries no start time at all.
type Reaper struct {
	store  catalog.RecordStore
	clock  catalog.Clock
	cfg    ReaperConfig
	logger *zap.Logger
}

// NewReaper builds a Reaper.
func NewReaper(store catalog.RecordStore, clock catalog.Clock, cfg ReaperConfig, logger *zap.Logger) (*Reaper, error) {
	if store == nil || clock == nil {
		return nil, errors.New("reaper needs a store and clock")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultReaperInterval
	}
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	if cfg.Grace < 0 {
		cfg.Grace = DefaultReaperGrace
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{store: store, clock: clock, cfg: cfg, logger: logger.Named("reaper")}, nil
}

// Run sweeps immediately and then every Interval until ctx finishes.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep reaps every stuck record once and returns how many were moved.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	records, err := r.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list records: %w", err)
	}
	cutoff := r.clock.Now().Add(-(r.cfg.Budget + r.cfg.Grace))
	failed := enrich.Failed(&catalog.TimeoutError{Budget: r.cfg.Budget.String()})

	reaped := 0
	var errs []error
	for _, rec := range records {
		if rec.Status() != catalog.StatusScraping || !r.stale(rec, cutoff) {
			continue
		}
		id := rec.ID()
		if err := r.store.Update(ctx, id, failed.Clone()); err != nil {
			metrics.ObservePersistenceFailure("reap")
			errs = append(errs, &catalog.PersistenceError{Op: "reap", ID: id, Err: err})
			continue
		}
		r.logger.Warn("stuck record moved to error",
			zap.String("record_id", id),
			zap.String("started_at", rec.String(catalog.FieldScrapeStart)))
		reaped++
	}
	metrics.ObserveReaped(reaped)
	return reaped, errors.Join(errs...)
}

func (r *Reaper) stale(rec catalog.Record, cutoff time.Time) bool {
	raw := rec.String(catalog.FieldScrapeStart)
	if raw == "" {
		return true
	}
	started, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		r.logger.Debug("unparseable scrape start", zap.String("record_id", rec.ID()), zap.String("value", raw))
		return true
	}
	return started.Before(cutoff)
}
