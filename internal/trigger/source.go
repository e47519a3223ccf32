package trigger

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/course-enricher/internal/catalog"
)

// DeliverFunc hands one change event to the dispatcher.
type DeliverFunc func(ctx context.Context, ev catalog.ChangeEvent) error

// Source delivers change events until ctx finishes or the subscription ends.
type Source interface {
	Subscribe(ctx context.Context, deliver DeliverFunc) error
}

// WatchSource subscribes directly to a record store's change stream.
type WatchSource struct {
	watcher catalog.Watcher
	logger  *zap.Logger
}

// NewWatchSource wraps watcher.
func NewWatchSource(watcher catalog.Watcher, logger *zap.Logger) (*WatchSource, error) {
	if watcher == nil {
		return nil, errors.New("watch source needs a watcher")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WatchSource{watcher: watcher, logger: logger.Named("watch_source")}, nil
}

// errStreamClosed reports a change stream that ended while the subscriber
// was still running.
var errStreamClosed = errors.New("change stream closed")

// Subscribe implements Source. A stream that closes before ctx finishes is
// an error, so the caller can tear down and restart.
func (s *WatchSource) Subscribe(ctx context.Context, deliver DeliverFunc) error {
	events, err := s.watcher.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch records: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("change stream closed unexpectedly")
				return errStreamClosed
			}
			if err := deliver(ctx, ev); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Warn("change event dropped", zap.String("record_id", ev.ID), zap.Error(err))
			}
		}
	}
}
