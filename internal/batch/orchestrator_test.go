package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/course-enricher/internal/catalog"
	"github.com/JakeFAU/course-enricher/internal/enrich"
	"github.com/JakeFAU/course-enricher/internal/progress"
)

type fakeEnricher struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	fail     map[string]error
	calls    atomic.Int32
}

func (f *fakeEnricher) Enrich(_ context.Context, rec catalog.Record) enrich.Outcome {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(f.delay)
	f.inFlight.Add(-1)

	if err := f.fail[rec.ID()]; err != nil {
		return enrich.Outcome{ID: rec.ID(), Err: err}
	}
	return enrich.Outcome{
		ID:      rec.ID(),
		URL:     "https://uni.example/" + rec.ID(),
		Updates: catalog.NewRecord("title", "Program "+rec.ID()),
	}
}

type fakeSleeper struct {
	mu     sync.Mutex
	sleeps []time.Duration
	err    error
}

func (s *fakeSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeps = append(s.sleeps, d)
	return s.err
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

type fixedIDs struct{}

func (fixedIDs) NewID() (string, error) { return "0190f1c4-9a53-7cc0-8a9e-4b2f1d3c5e6f", nil }

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) stages() map[progress.Stage]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := map[progress.Stage]int{}
	for _, evt := range e.events {
		out[evt.Stage]++
	}
	return out
}

func records(n int) []catalog.Record {
	out := make([]catalog.Record, n)
	for i := range out {
		out[i] = catalog.NewRecord("id", fmt.Sprintf("R%02d", i), "url", "https://uni.example")
	}
	return out
}

func newOrchestrator(t *testing.T, e RecordEnricher, s catalog.Sleeper, emitter progress.Emitter) *Orchestrator {
	t.Helper()
	o, err := New(e, s, fixedClock{}, fixedIDs{}, emitter, Config{ChunkSize: 5, ChunkDelay: 4 * time.Second}, nil)
	require.NoError(t, err)
	return o
}

func TestScrapeChunksAndSleepsBetweenChunks(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 5, 6, 12} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			t.Parallel()
			enricher := &fakeEnricher{delay: 5 * time.Millisecond}
			sleeper := &fakeSleeper{}
			o := newOrchestrator(t, enricher, sleeper, nil)

			results := o.Scrape(context.Background(), records(n), nil)

			chunks := (n + 4) / 5
			require.Len(t, results, n)
			require.Len(t, sleeper.sleeps, chunks-1)
			for _, d := range sleeper.sleeps {
				require.Equal(t, 4*time.Second, d)
			}
			require.LessOrEqual(t, enricher.peak.Load(), int32(5))
			require.Equal(t, int32(n), enricher.calls.Load())
		})
	}
}

func TestScrapeKeepsInputOrderAndIsolatesFailures(t *testing.T) {
	t.Parallel()

	enricher := &fakeEnricher{fail: map[string]error{
		"R01": catalog.ErrNoURL(),
		"R03": &catalog.ExtractionError{Err: errors.New("unexpected end of JSON input")},
	}}
	o := newOrchestrator(t, enricher, &fakeSleeper{}, nil)

	results := o.Scrape(context.Background(), records(7), nil)

	for i, res := range results {
		require.Equal(t, fmt.Sprintf("R%02d", i), res.ID)
	}
	require.True(t, results[0].OK())
	require.Equal(t, "Program R00", results[0].Updates.String("title"))
	require.Equal(t, catalog.MsgNoURL, results[1].Fields().String(catalog.FieldError))
	require.Equal(t, catalog.MsgExtractionFailed, results[3].Fields().String(catalog.FieldError))
	require.True(t, results[6].OK())
}

func TestScrapeReportsProgress(t *testing.T) {
	t.Parallel()

	o := newOrchestrator(t, &fakeEnricher{}, &fakeSleeper{}, nil)

	type call struct {
		processed, total int
		id               string
	}
	var calls []call
	o.Scrape(context.Background(), records(6), func(processed, total int, current *catalog.Record) {
		c := call{processed: processed, total: total}
		if current != nil {
			c.id = current.ID()
		}
		calls = append(calls, c)
	})

	require.Len(t, calls, 7)
	for i := 0; i < 6; i++ {
		require.Equal(t, i+1, calls[i].processed)
		require.Equal(t, 6, calls[i].total)
		require.NotEmpty(t, calls[i].id)
	}
	require.Equal(t, call{processed: 6, total: 6}, calls[6])
}

func TestScrapeEmptyInput(t *testing.T) {
	t.Parallel()

	sleeper := &fakeSleeper{}
	emitter := &recordingEmitter{}
	o := newOrchestrator(t, &fakeEnricher{}, sleeper, emitter)

	called := false
	results := o.Scrape(context.Background(), nil, func(int, int, *catalog.Record) { called = true })
	require.Empty(t, results)
	require.False(t, called)
	require.Empty(t, sleeper.sleeps)
	require.Empty(t, emitter.events)
}

func TestScrapeAbortsRemainingChunksOnShutdown(t *testing.T) {
	t.Parallel()

	enricher := &fakeEnricher{}
	sleeper := &fakeSleeper{err: context.Canceled}
	emitter := &recordingEmitter{}
	o := newOrchestrator(t, enricher, sleeper, emitter)

	var last int
	results := o.Scrape(context.Background(), records(11), func(processed, _ int, _ *catalog.Record) {
		last = processed
	})

	require.Equal(t, int32(5), enricher.calls.Load())
	require.Len(t, sleeper.sleeps, 1)
	require.Equal(t, 11, last)
	for _, res := range results[5:] {
		require.ErrorIs(t, res.Err, context.Canceled)
	}
	stages := emitter.stages()
	require.Equal(t, 1, stages[progress.StageBatchError])
	require.Zero(t, stages[progress.StageBatchDone])
	require.Equal(t, 6, stages[progress.StageRecordError])
}

func TestScrapeEmitsProgressEvents(t *testing.T) {
	t.Parallel()

	emitter := &recordingEmitter{}
	o := newOrchestrator(t, &fakeEnricher{fail: map[string]error{"R00": catalog.ErrNoURL()}}, &fakeSleeper{}, emitter)

	runID, _ := o.ScrapeRun(context.Background(), records(2), nil)
	require.Equal(t, "0190f1c4-9a53-7cc0-8a9e-4b2f1d3c5e6f", runID)

	stages := emitter.stages()
	require.Equal(t, 1, stages[progress.StageBatchStart])
	require.Equal(t, 1, stages[progress.StageRecordError])
	require.Equal(t, 1, stages[progress.StageRecordDone])
	require.Equal(t, 1, stages[progress.StageBatchDone])
	for _, evt := range emitter.events {
		require.NoError(t, evt.Validate())
		require.Equal(t, progress.PathBatch, evt.Path)
	}
}

func TestResultJSON(t *testing.T) {
	t.Parallel()

	ok, err := json.Marshal(Result{ID: "A1", Updates: catalog.NewRecord("study_tuition_semester_eur", json.Number("500"))})
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"A1","updates":{"study_tuition_semester_eur":500}}`, string(ok))

	failed, err := json.Marshal(Result{ID: "B2", Err: catalog.ErrNoURL()})
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"B2","error":"No URL found","details":"Could not find a valid URL to scrape for this record."}`, string(failed))
}

func TestFilterPending(t *testing.T) {
	t.Parallel()

	in := []catalog.Record{
		catalog.NewRecord("id", "1", "scrape_status", "COMPLETED"),
		catalog.NewRecord("id", "2", "scrape_status", "ERROR"),
		catalog.NewRecord("id", "3"),
	}
	require.Len(t, FilterPending(in, false), 3)
	kept := FilterPending(in, true)
	require.Len(t, kept, 2)
	require.Equal(t, "2", kept[0].ID())
	require.Equal(t, "3", kept[1].ID())
}

func TestSelectRecords(t *testing.T) {
	t.Parallel()

	rows := []catalog.Record{catalog.NewRecord("id", "a"), catalog.NewRecord("id", "b"), catalog.NewRecord("id", "c")}
	got, missing := SelectRecords(rows, []string{"c", "a", "x", "x"})
	require.Equal(t, []string{"x"}, missing)
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].ID())
	require.Equal(t, "c", got[1].ID())

	all, missing := SelectRecords(rows, nil)
	require.Len(t, all, 3)
	require.Empty(t, missing)
}
