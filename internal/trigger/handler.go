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
	"github.com/JakeFAU/course-enricher/internal/progress"
)

// Defaults for a trigger deployment.
const (
	DefaultBudget       = 120 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// Enricher is the part of enrich.Enricher the handler needs.
type Enricher interface {
	Discover(rec catalog.Record) (string, error)
	Enrich(ctx context.Context, rec catalog.Record) enrich.Outcome
}

// Config tunes a Handler.
type Config struct {
	// Budget caps the wall-clock time of one enrichment.
	Budget time.Duration
	// WriteTimeout bounds the final status write, which runs detached from
	// the invocation context.
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Budget <= 0 {
		c.Budget = DefaultBudget
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	return c
}

// Handler reacts to a single change event.
type Handler struct {
	store    catalog.RecordStore
	enricher Enricher
	clock    catalog.Clock
	emitter  progress.Emitter
	cfg      Config
	logger   *zap.Logger
}

// NewHandler builds a Handler. emitter may be nil.
func NewHandler(
	store catalog.RecordStore,
	enricher Enricher,
	clock catalog.Clock,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) (*Handler, error) {
	if store == nil || enricher == nil || clock == nil {
		return nil, errors.New("trigger handler needs a store, enricher and clock")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:    store,
		enricher: enricher,
		clock:    clock,
		emitter:  emitter,
		cfg:      cfg.withDefaults(),
		logger:   logger.Named("trigger"),
	}, nil
}

// Budget returns the effective enrichment budget.
func (h *Handler) Budget() time.Duration {
	return h.cfg.Budget
}

// Handle enriches the record of ev when an update moved it into
// PENDING_SCRAPE. Per-record failures end up on the record; only store
// write failures are returned.
func (h *Handler) Handle(ctx context.Context, ev catalog.ChangeEvent) error {
	prev, next := ev.Before.Status(), ev.After.Status()
	if !ev.Activates() {
		metrics.ObserveTriggerSkipped()
		return nil
	}
	id := ev.ID
	if id == "" {
		id = ev.After.ID()
	}
	if id == "" {
		h.logger.Warn("change event without record id ignored")
		return nil
	}
	logger := h.logger.With(zap.String("record_id", id))
	if !catalog.CanTransition(prev, next) {
		logger.Warn("unexpected status transition",
			zap.Stringer("from", prev), zap.Stringer("to", next))
	}

	metrics.IncActiveTriggers()
	defer metrics.DecActiveTriggers()

	start := h.clock.Now()
	rec := ev.After.Clone()
	url, err := h.enricher.Discover(rec)
	if err != nil {
		logger.Warn("record has no scrape url")
		return h.finishFailed(ctx, logger, id, url, err, start)
	}
	h.emit(progress.Event{Stage: progress.StageTriggerStart, RecordID: id, URL: url, Site: metrics.SanitizeSite(url)})

	scraping := catalog.NewRecord(
		catalog.FieldStatus, string(catalog.StatusScraping),
		catalog.FieldScrapeStart, enrich.FormatTime(start),
	)
	if err := h.write(ctx, "scraping", id, scraping); err != nil {
		logger.Error("status write failed", zap.Error(err))
		return err
	}

	out, err := h.enrichWithinBudget(ctx, rec)
	if err != nil {
		logger.Warn("enrichment did not finish", zap.Error(err))
		return h.finishFailed(ctx, logger, id, url, err, start)
	}
	if out.FetchFailed {
		h.emit(progress.Event{Stage: progress.StageFetchFallback, RecordID: id, URL: url, Site: metrics.SanitizeSite(url)})
	}
	if out.Err != nil {
		return h.finishFailed(ctx, logger, id, url, out.Err, start)
	}

	if err := h.writeDetached(ctx, "complete", id, enrich.Completed(out.Updates, h.clock.Now())); err != nil {
		logger.Error("result write failed", zap.Error(err))
		return err
	}
	logger.Info("record enriched", zap.String("url", url), zap.Duration("dur", out.Duration))
	h.emit(progress.Event{
		Stage:    progress.StageTriggerDone,
		RecordID: id,
		URL:      url,
		Site:     metrics.SanitizeSite(url),
		Dur:      h.clock.Now().Sub(start),
		Note:     out.SnapshotURI,
	})
	return nil
}

// enrichWithinBudget runs the enricher and gives up when the budget elapses
// or the invocation is cancelled. A late outcome is discarded.
func (h *Handler) enrichWithinBudget(ctx context.Context, rec catalog.Record) (enrich.Outcome, error) {
	budgetCtx, cancel := context.WithTimeout(ctx, h.cfg.Budget)
	defer cancel()

	done := make(chan enrich.Outcome, 1)
	go func() {
		done <- h.enricher.Enrich(budgetCtx, rec)
	}()

	select {
	case out := <-done:
		return out, nil
	case <-budgetCtx.Done():
		if ctx.Err() != nil {
			return enrich.Outcome{}, fmt.Errorf("enrichment interrupted: %w", ctx.Err())
		}
		return enrich.Outcome{}, &catalog.TimeoutError{Budget: h.cfg.Budget.String()}
	}
}

func (h *Handler) finishFailed(
	ctx context.Context,
	logger *zap.Logger,
	id, url string,
	cause error,
	start time.Time,
) error {
	if err := h.writeDetached(ctx, "fail", id, enrich.Failed(cause)); err != nil {
		logger.Error("error status write failed", zap.Error(err), zap.NamedError("cause", cause))
		return err
	}
	msg, _ := catalog.Describe(cause)
	site := ""
	if url != "" {
		site = metrics.SanitizeSite(url)
	}
	h.emit(progress.Event{
		Stage:    progress.StageTriggerError,
		RecordID: id,
		URL:      url,
		Site:     site,
		Dur:      h.clock.Now().Sub(start),
		Note:     msg,
	})
	return nil
}

// writeDetached outlives cancellation of ctx so a record never stays in
// SCRAPING because the invocation was torn down.
func (h *Handler) writeDetached(ctx context.Context, op, id string, fields catalog.Record) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.WriteTimeout)
	defer cancel()
	return h.write(wctx, op, id, fields)
}

func (h *Handler) write(ctx context.Context, op, id string, fields catalog.Record) error {
	if err := h.store.Update(ctx, id, fields); err != nil {
		metrics.ObservePersistenceFailure(op)
		return &catalog.PersistenceError{Op: op, ID: id, Err: err}
	}
	return nil
}

func (h *Handler) emit(evt progress.Event) {
	if h.emitter == nil {
		return
	}
	evt.Path = progress.PathTrigger
	evt.TS = h.clock.Now()
	h.emitter.Emit(evt)
}
