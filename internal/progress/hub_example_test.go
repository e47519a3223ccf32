package progress

import (
	"context"
	"fmt"
	"time"
)

type exampleCountingSink struct {
	failures int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	for _, evt := range batch {
		if evt.Stage == StageRecordError {
			s.failures++
		}
	}
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit forwards record outcomes to a sink and flushes on Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 1, MaxBatchWait: time.Second}, sink)

	hub.Emit(Event{TS: time.Unix(0, 0), Stage: StageRecordDone, Path: PathTrigger, RecordID: "A1"})
	hub.Emit(Event{TS: time.Unix(1, 0), Stage: StageRecordError, Path: PathTrigger, RecordID: "B2", Note: "No URL found"})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("failed records: %d\n", sink.failures)
	// Output:
	// failed records: 1
}
