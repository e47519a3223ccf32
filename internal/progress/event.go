package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageBatchStart    Stage = "BATCH_START"
	StageBatchDone     Stage = "BATCH_DONE"
	StageBatchError    Stage = "BATCH_ERROR"
	StageRecordDone    Stage = "RECORD_DONE"
	StageRecordError   Stage = "RECORD_ERROR"
	StageFetchFallback Stage = "FETCH_FALLBACK"
	StageTriggerStart  Stage = "TRIGGER_START"
	StageTriggerDone   Stage = "TRIGGER_DONE"
	StageTriggerError  Stage = "TRIGGER_ERROR"
)

// Execution paths.
const (
	PathBatch   = "batch"
	PathTrigger = "trigger"
)

// Event is a single enrichment milestone.
type Event struct {
	// RunID identifies a batch run. Trigger events leave it zero.
	RunID [16]byte
	TS    time.Time
	Stage Stage
	// Path is PathBatch or PathTrigger.
	Path     string
	RecordID string
	// Site is the sanitized host of URL.
	Site string
	URL  string
	// Total is the batch size on BATCH_START.
	Total int
	Dur   time.Duration
	// Note carries low-volume context such as an error message or snapshot URI.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageBatchStart, StageBatchDone, StageBatchError:
		if e.RunID == [16]byte{} {
			return errors.New("batch events require a run id")
		}
	case StageRecordDone, StageRecordError, StageTriggerStart, StageTriggerDone, StageTriggerError:
		if e.RecordID == "" {
			return fmt.Errorf("%s requires a record id", e.Stage)
		}
	case StageFetchFallback:
		if e.Site == "" {
			return errors.New("fetch fallback requires site")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// HasRun reports whether the event belongs to a batch run.
func (e Event) HasRun() bool {
	return e.RunID != [16]byte{}
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// ParseRunID converts a textual run ID into the Event form.
func ParseRunID(id string) ([16]byte, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return [16]byte{}, fmt.Errorf("parse run id: %w", err)
	}
	return [16]byte(parsed), nil
}
