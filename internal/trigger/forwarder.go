package trigger

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/course-enricher/internal/catalog"
)

// Forwarder republishes activating change events from a store watcher to a
// topic, so trigger workers can run as a separate deployment.
type Forwarder struct {
	watcher   catalog.Watcher
	publisher catalog.Publisher
	topic     string
	logger    *zap.Logger
}

// NewForwarder builds a Forwarder.
func NewForwarder(watcher catalog.Watcher, publisher catalog.Publisher, topic string, logger *zap.Logger) (*Forwarder, error) {
	if watcher == nil || publisher == nil {
		return nil, errors.New("forwarder needs a watcher and a publisher")
	}
	if topic == "" {
		return nil, errors.New("forwarder needs a topic")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{watcher: watcher, publisher: publisher, topic: topic, logger: logger.Named("forwarder")}, nil
}

// Run blocks until ctx finishes or the watch stream closes.
func (f *Forwarder) Run(ctx context.Context) error {
	events, err := f.watcher.Watch(ctx)
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
				f.logger.Error("change stream closed unexpectedly")
				return errStreamClosed
			}
			if !ev.Activates() {
				continue
			}
			msgID, err := f.publisher.Publish(ctx, f.topic, ev)
			if err != nil {
				// The record stays PENDING_SCRAPE; rewriting the status re-triggers it.
				f.logger.Error("change event publish failed", zap.String("record_id", ev.ID), zap.Error(err))
				continue
			}
			f.logger.Debug("change event forwarded", zap.String("record_id", ev.ID), zap.String("message_id", msgID))
		}
	}
}
