package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/course-enricher/internal/progress"
	"github.com/JakeFAU/course-enricher/internal/store"
)

// StoreSink persists batch runs through a store.RunRepository. Record events
// are collapsed per (run, site) before writing. Trigger events carry no run
// and are skipped.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for repo.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

type siteKey struct {
	run  uuid.UUID
	site string
}

type siteAgg struct {
	delta store.SiteDelta
	at    time.Time
}

// Consume writes run transitions in order and site deltas at the end.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	sites := make(map[siteKey]*siteAgg)
	for _, evt := range batch {
		if !evt.HasRun() {
			continue
		}
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageBatchStart:
			if err := s.repo.UpsertRunStart(ctx, runID, evt.TS, evt.Total); err != nil {
				return fmt.Errorf("upsert run start: %w", err)
			}
		case progress.StageBatchDone:
			if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunSuccess, nil); err != nil {
				return fmt.Errorf("complete run: %w", err)
			}
		case progress.StageBatchError:
			var note *string
			if evt.Note != "" {
				note = &evt.Note
			}
			if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunError, note); err != nil {
				return fmt.Errorf("complete run: %w", err)
			}
		case progress.StageRecordDone:
			aggregate(sites, runID, evt).delta.Succeeded++
		case progress.StageRecordError:
			aggregate(sites, runID, evt).delta.Failed++
		case progress.StageFetchFallback:
			aggregate(sites, runID, evt).delta.Fallbacks++
		}
	}
	for key, agg := range sites {
		if agg.delta.Empty() {
			continue
		}
		if err := s.repo.AddSiteStats(ctx, key.run, key.site, agg.delta, agg.at); err != nil {
			return fmt.Errorf("add site stats: %w", err)
		}
	}
	return nil
}

func aggregate(sites map[siteKey]*siteAgg, runID uuid.UUID, evt progress.Event) *siteAgg {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	key := siteKey{run: runID, site: site}
	agg := sites[key]
	if agg == nil {
		agg = &siteAgg{}
		sites[key] = agg
	}
	if evt.TS.After(agg.at) {
		agg.at = evt.TS
	}
	return agg
}

// Close implements progress.Sink.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
