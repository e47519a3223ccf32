package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/course-enricher/internal/progress"
)

// LogSink writes one structured log line per event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("stage", string(evt.Stage)),
			zap.String("path", evt.Path),
		}
		if evt.HasRun() {
			fields = append(fields, zap.Stringer("run_id", evt.RunUUID()))
		}
		if evt.RecordID != "" {
			fields = append(fields, zap.String("record_id", evt.RecordID))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.Total > 0 {
			fields = append(fields, zap.Int("total", evt.Total))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if isFailure(evt.Stage) {
			s.logger.Warn("progress event", fields...)
			continue
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}

func isFailure(stage progress.Stage) bool {
	switch stage {
	case progress.StageBatchError, progress.StageRecordError, progress.StageTriggerError:
		return true
	default:
		return false
	}
}
