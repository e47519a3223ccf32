package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/course-enricher/internal/progress"
)

// PrometheusSink exports batch and record progress as Prometheus collectors.
type PrometheusSink struct {
	batchesStarted   prometheus.Counter
	batchesCompleted *prometheus.CounterVec
	batchesRunning   prometheus.Gauge
	batchRuntime     *prometheus.HistogramVec

	records        *prometheus.CounterVec
	recordDuration *prometheus.HistogramVec
	fallbacks      *prometheus.CounterVec

	running *runTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		batchesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "enricher_batches_started_total",
			Help: "Batch runs started.",
		}),
		batchesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enricher_batches_completed_total",
			Help: "Batch runs completed partitioned by result.",
		}, []string{"result"}),
		batchesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "enricher_batches_running",
			Help: "Batch runs in flight.",
		}),
		batchRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "enricher_batch_runtime_seconds",
			Help:    "Wall time per completed batch run.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"result"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enricher_records_total",
			Help: "Records enriched partitioned by execution path and outcome.",
		}, []string{"path", "outcome"}),
		recordDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "enricher_record_duration_seconds",
			Help:    "Fetch plus extraction time per record.",
			Buckets: []float64{1, 2, 5, 10, 20, 40, 80, 120},
		}, []string{"path"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enricher_search_fallbacks_total",
			Help: "Records extracted through search after a failed fetch, by path.",
		}, []string{"path"}),
		running: &runTracker{runs: make(map[[16]byte]struct{})},
	}
	for _, collector := range []prometheus.Collector{
		s.batchesStarted,
		s.batchesCompleted,
		s.batchesRunning,
		s.batchRuntime,
		s.records,
		s.recordDuration,
		s.fallbacks,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageBatchStart:
			s.batchesStarted.Inc()
			if s.running.start(evt.RunID) {
				s.batchesRunning.Inc()
			}
		case progress.StageBatchDone:
			s.finishBatch(evt, "success")
		case progress.StageBatchError:
			s.finishBatch(evt, "error")
		case progress.StageRecordDone, progress.StageTriggerDone:
			s.observeRecord(evt, "completed")
		case progress.StageRecordError, progress.StageTriggerError:
			s.observeRecord(evt, "error")
		case progress.StageFetchFallback:
			s.fallbacks.WithLabelValues(pathLabel(evt)).Inc()
		}
	}
	return nil
}

func (s *PrometheusSink) finishBatch(evt progress.Event, result string) {
	s.batchesCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.batchRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.running.finish(evt.RunID) {
		s.batchesRunning.Dec()
	}
}

func (s *PrometheusSink) observeRecord(evt progress.Event, outcome string) {
	path := pathLabel(evt)
	s.records.WithLabelValues(path, outcome).Inc()
	if evt.Dur > 0 {
		s.recordDuration.WithLabelValues(path).Observe(evt.Dur.Seconds())
	}
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func pathLabel(evt progress.Event) string {
	if evt.Path == "" {
		return "unknown"
	}
	return evt.Path
}

type runTracker struct {
	mu   sync.Mutex
	runs map[[16]byte]struct{}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.runs[id]; ok {
		return false
	}
	t.runs[id] = struct{}{}
	return true
}

func (t *runTracker) finish(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.runs[id]; !ok {
		return false
	}
	delete(t.runs, id)
	return true
}
