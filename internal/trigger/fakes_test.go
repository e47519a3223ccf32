package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/JakeFAU/course-enricher/internal/catalog"
	"github.com/JakeFAU/course-enricher/internal/enrich"
	"github.com/JakeFAU/course-enricher/internal/progress"
)

type fakeStore struct {
	mu       sync.Mutex
	records  []catalog.Record
	updates  []storeUpdate
	failOn   map[string]error
	listErr  error
	ctxAlive []bool
}

type storeUpdate struct {
	ID     string
	Fields catalog.Record
}

func (s *fakeStore) List(context.Context) ([]catalog.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]catalog.Record, len(s.records))
	for i, r := range s.records {
		out[i] = r.Clone()
	}
	return out, nil
}

func (s *fakeStore) Get(_ context.Context, id string) (catalog.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ID() == id {
			return r.Clone(), nil
		}
	}
	return catalog.Record{}, catalog.ErrNotFound
}

func (s *fakeStore) Upsert(context.Context, []catalog.Record) error {
	return errors.New("not used")
}

func (s *fakeStore) Update(ctx context.Context, id string, fields catalog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctxAlive = append(s.ctxAlive, ctx.Err() == nil)
	if err := s.failOn[fields.String(catalog.FieldStatus)]; err != nil {
		return err
	}
	s.updates = append(s.updates, storeUpdate{ID: id, Fields: fields.Clone()})
	for i := range s.records {
		if s.records[i].ID() == id {
			s.records[i].Merge(fields)
		}
	}
	return nil
}

func (s *fakeStore) SetStatus(context.Context, []string, catalog.Status) error {
	return errors.New("not used")
}

func (s *fakeStore) snapshot() []storeUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storeUpdate(nil), s.updates...)
}

type fakeEnricher struct {
	outcome  enrich.Outcome
	// release, when set, holds Enrich until closed regardless of ctx.
	release  chan struct{}
	noURL    bool
	mu       sync.Mutex
	calls    int
	inflight int
	peak     int
	delay    time.Duration
}

func (f *fakeEnricher) Discover(rec catalog.Record) (string, error) {
	if f.noURL {
		return "", catalog.ErrNoURL()
	}
	return rec.String("study_url"), nil
}

func (f *fakeEnricher) Enrich(ctx context.Context, rec catalog.Record) enrich.Outcome {
	f.mu.Lock()
	f.calls++
	f.inflight++
	if f.inflight > f.peak {
		f.peak = f.inflight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if f.release != nil {
		<-f.release
		return enrich.Outcome{ID: rec.ID(), Err: errors.New("released late")}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	out := f.outcome
	out.ID = rec.ID()
	return out
}

func (f *fakeEnricher) stats() (calls, peak int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, f.peak
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, len(r.events))
	for i, e := range r.events {
		out[i] = e.Stage
	}
	return out
}

func blockedEnricher(t *testing.T) *fakeEnricher {
	t.Helper()
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	return &fakeEnricher{release: release}
}

func pendingEvent(id string, before catalog.Status) catalog.ChangeEvent {
	prev := catalog.NewRecord("id", id, "study_url", "https://uni.example/"+id)
	if before != catalog.StatusUnscraped {
		prev.Set(catalog.FieldStatus, string(before))
	}
	next := prev.Clone()
	next.Set(catalog.FieldStatus, string(catalog.StatusPending))
	return catalog.ChangeEvent{ID: id, Before: prev, After: next}
}
