// Package batch implements the synchronous, caller-driven enrichment path.
// Records are processed in fixed-size chunks with a pause between chunks to
// pace calls against the extraction quota. Nothing is persisted here.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/course-enricher/internal/catalog"
	"github.com/JakeFAU/course-enricher/internal/enrich"
	"github.com/JakeFAU/course-enricher/internal/metrics"
	"github.com/JakeFAU/course-enricher/internal/progress"
)

// Defaults tuned for the free extraction tier (roughly 15 requests a minute).
const (
	DefaultChunkSize  = 5
	DefaultChunkDelay = 4 * time.Second
)

// ProgressFunc receives (processed, total, record) after every record and a
// final (total, total, nil).
type ProgressFunc func(processed, total int, current *catalog.Record)

// RecordEnricher enriches a single record.
type RecordEnricher interface {
	Enrich(ctx context.Context, rec catalog.Record) enrich.Outcome
}

// Config tunes chunking.
type Config struct {
	ChunkSize  int
	ChunkDelay time.Duration
}

// Result is the outcome for one input record.
type Result struct {
	ID      string
	Updates catalog.Record
	Err     error
}

// OK reports whether the record was enriched.
func (r Result) OK() bool {
	return r.Err == nil
}

// Fields returns the updates, or the error/details pair.
func (r Result) Fields() catalog.Record {
	if r.Err != nil {
		msg, details := catalog.Describe(r.Err)
		return catalog.NewRecord(catalog.FieldError, msg, catalog.FieldDetails, details)
	}
	return r.Updates.Clone()
}

// MarshalJSON renders {id, updates} or {id, error, details}.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		msg, details := catalog.Describe(r.Err)
		return json.Marshal(struct {
			ID      string `json:"id"`
			Error   string `json:"error"`
			Details string `json:"details"`
		}{r.ID, msg, details})
	}
	return json.Marshal(struct {
		ID      string         `json:"id"`
		Updates catalog.Record `json:"updates"`
	}{r.ID, r.Updates})
}

// Orchestrator runs batches.
type Orchestrator struct {
	enricher RecordEnricher
	sleeper  catalog.Sleeper
	clock    catalog.Clock
	ids      catalog.IDGenerator
	emitter  progress.Emitter
	cfg      Config
	logger   *zap.Logger
}

// New builds an Orchestrator. emitter may be nil.
func New(
	enricher RecordEnricher,
	sleeper catalog.Sleeper,
	clock catalog.Clock,
	ids catalog.IDGenerator,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if enricher == nil || sleeper == nil || clock == nil || ids == nil {
		return nil, errors.New("orchestrator needs an enricher, sleeper, clock and id generator")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkDelay < 0 {
		cfg.ChunkDelay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		enricher: enricher,
		sleeper:  sleeper,
		clock:    clock,
		ids:      ids,
		emitter:  emitter,
		cfg:      cfg,
		logger:   logger.Named("batch"),
	}, nil
}

// Scrape enriches records and returns one result per record in input order.
func (o *Orchestrator) Scrape(ctx context.Context, records []catalog.Record, onProgress ProgressFunc) []Result {
	_, results := o.ScrapeRun(ctx, records, onProgress)
	return results
}

// ScrapeRun is Scrape that also returns the run ID used in logs and progress
// events. An empty input returns no run ID, no results and no callbacks.
func (o *Orchestrator) ScrapeRun(
	ctx context.Context,
	records []catalog.Record,
	onProgress ProgressFunc,
) (string, []Result) {
	total := len(records)
	if total == 0 {
		return "", []Result{}
	}
	runID, err := o.ids.NewID()
	if err != nil {
		o.logger.Warn("run id generation failed", zap.Error(err))
	}
	r := &run{
		Orchestrator: o,
		id:           runID,
		total:        total,
		results:      make([]Result, total),
		onProgress:   onProgress,
		logger:       o.logger.With(zap.String("run_id", runID)),
	}
	if parsed, perr := progress.ParseRunID(runID); perr == nil {
		r.eventID = parsed
	}
	r.execute(ctx, records)
	return runID, r.results
}

// run holds the state of one Scrape call.
type run struct {
	*Orchestrator
	id      string
	eventID [16]byte
	total   int
	results []Result
	logger  *zap.Logger

	mu         sync.Mutex
	processed  int
	onProgress ProgressFunc
}

func (r *run) execute(ctx context.Context, records []catalog.Record) {
	start := r.clock.Now()
	chunks := (r.total + r.cfg.ChunkSize - 1) / r.cfg.ChunkSize
	r.logger.Info("batch started", zap.Int("total", r.total), zap.Int("chunks", chunks))
	r.emit(progress.Event{Stage: progress.StageBatchStart, Total: r.total})

	var aborted error
	for offset := 0; offset < r.total; offset += r.cfg.ChunkSize {
		end := min(offset+r.cfg.ChunkSize, r.total)
		if aborted != nil {
			r.abort(records[offset:end], offset, aborted)
			continue
		}
		r.chunk(ctx, records[offset:end], offset)

		if end < r.total {
			r.logger.Debug("pausing between chunks", zap.Duration("delay", r.cfg.ChunkDelay))
			if err := r.sleeper.Sleep(ctx, r.cfg.ChunkDelay); err != nil {
				aborted = fmt.Errorf("batch aborted before record was processed: %w", err)
				r.logger.Warn("batch interrupted", zap.Error(err), zap.Int("remaining", r.total-end))
			}
		}
	}

	if r.onProgress != nil {
		r.onProgress(r.total, r.total, nil)
	}
	dur := r.clock.Now().Sub(start)
	if aborted != nil {
		r.emit(progress.Event{Stage: progress.StageBatchError, Dur: dur, Note: aborted.Error()})
		return
	}
	r.logger.Info("batch finished", zap.Duration("dur", dur))
	r.emit(progress.Event{Stage: progress.StageBatchDone, Dur: dur})
}

// chunk runs every record of the chunk concurrently. Workers never return an
// error, so one failing record cannot cancel its siblings.
func (r *run) chunk(ctx context.Context, records []catalog.Record, offset int) {
	var g errgroup.Group
	for i, rec := range records {
		g.Go(func() error {
			out := r.enricher.Enrich(ctx, rec)
			r.finish(offset+i, rec, out)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *run) abort(records []catalog.Record, offset int, cause error) {
	for i, rec := range records {
		r.finish(offset+i, rec, enrich.Outcome{ID: rec.ID(), Err: cause})
	}
}

func (r *run) finish(index int, rec catalog.Record, out enrich.Outcome) {
	id := out.ID
	if id == "" {
		id = rec.ID()
	}
	r.results[index] = Result{ID: id, Updates: out.Updates, Err: out.Err}

	site := ""
	if out.URL != "" {
		site = metrics.SanitizeSite(out.URL)
	}
	if out.FetchFailed {
		r.emit(progress.Event{Stage: progress.StageFetchFallback, RecordID: id, Site: site, URL: out.URL})
	}
	evt := progress.Event{Stage: progress.StageRecordDone, RecordID: id, Site: site, URL: out.URL, Dur: out.Duration}
	if out.Err != nil {
		msg, _ := catalog.Describe(out.Err)
		evt.Stage = progress.StageRecordError
		evt.Note = msg
		r.logger.Warn("record failed", zap.String("record_id", id), zap.Error(out.Err))
	} else if out.SnapshotURI != "" {
		evt.Note = out.SnapshotURI
	}
	r.emit(evt)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed++
	if r.onProgress != nil {
		current := rec
		r.onProgress(r.processed, r.total, &current)
	}
}

func (r *run) emit(evt progress.Event) {
	if r.emitter == nil {
		return
	}
	evt.RunID = r.eventID
	evt.Path = progress.PathBatch
	evt.TS = r.clock.Now()
	r.emitter.Emit(evt)
}

// FilterPending drops records whose status is COMPLETED when skipCompleted is
// set. It is the only way to narrow a batch before it starts.
func FilterPending(records []catalog.Record, skipCompleted bool) []catalog.Record {
	if !skipCompleted {
		return records
	}
	out := make([]catalog.Record, 0, len(records))
	for _, rec := range records {
		if rec.Status() == catalog.StatusCompleted {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// SelectRecords keeps rows whose id is in ids, in store order. An empty ids
// selects every row. Unknown ids are returned once each.
func SelectRecords(rows []catalog.Record, ids []string) ([]catalog.Record, []string) {
	if len(ids) == 0 {
		return rows, nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = false
	}
	out := make([]catalog.Record, 0, len(ids))
	for _, row := range rows {
		if _, ok := want[row.ID()]; ok {
			want[row.ID()] = true
			out = append(out, row)
		}
	}
	var missing []string
	for _, id := range ids {
		if !want[id] {
			missing = append(missing, id)
			want[id] = true
		}
	}
	return out, missing
}
