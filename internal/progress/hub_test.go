package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 2, MaxBatchWait: time.Minute}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(recordEvent("A1"))
	hub.Emit(recordEvent("A2"))
	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 10, MaxBatchWait: 25 * time.Millisecond}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(recordEvent("A1"))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubEmitNeverBlocks(t *testing.T) {
	t.Parallel()

	hub := &Hub{events: make(chan Event), logger: zap.NewNop(), dropLog: throttle{interval: time.Hour}}
	start := time.Now()
	hub.Emit(recordEvent("A1"))
	hub.Emit(recordEvent("A2"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, int64(1), hub.dropped.Load())
}

func TestHubDropsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 1}, sink)
	hub.Emit(Event{Stage: StageRecordDone, TS: time.Now()})
	hub.Emit(Event{Stage: StageBatchStart, TS: time.Now()})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)
	hub.Emit(recordEvent("A1"))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.True(t, sink.closed)

	hub.Emit(recordEvent("A2"))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
}

func TestNilHubIsNoop(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(recordEvent("A1"))
	require.NoError(t, hub.Close(context.Background()))
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	run := [16]byte(uuid.New())
	now := time.Now()
	valid := []Event{
		{RunID: run, TS: now, Stage: StageBatchStart, Total: 3},
		{TS: now, Stage: StageTriggerDone, RecordID: "A1"},
		{TS: now, Stage: StageFetchFallback, Site: "uni.example"},
	}
	for _, evt := range valid {
		require.NoError(t, evt.Validate(), evt.Stage)
	}
	invalid := []Event{
		{Stage: StageRecordDone, RecordID: "A1"},
		{TS: now, Stage: StageBatchDone},
		{TS: now, Stage: StageRecordError},
		{TS: now, Stage: StageFetchFallback},
		{TS: now, Stage: "JOB_START"},
		{TS: now, Stage: StageTriggerStart, RecordID: "A1", Dur: -time.Second},
	}
	for _, evt := range invalid {
		require.Error(t, evt.Validate(), evt.Stage)
	}
}

func TestParseRunID(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	parsed, err := ParseRunID(id.String())
	require.NoError(t, err)
	require.Equal(t, id, Event{RunID: parsed}.RunUUID())

	_, err = ParseRunID("nope")
	require.Error(t, err)
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Event(nil), s.batches...)
}

func recordEvent(id string) Event {
	return Event{TS: time.Now(), Stage: StageRecordDone, Path: PathBatch, RecordID: id}
}
