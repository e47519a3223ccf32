package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/JakeFAU/course-enricher/internal/catalog"
	"github.com/JakeFAU/course-enricher/internal/trigger"
)

type receiver interface {
	Receive(ctx context.Context, fn func(context.Context, *pubsub.Message)) error
}

// Subscriber delivers change events from a subscription. It implements
// trigger.Source.
type Subscriber struct {
	sub    receiver
	logger *zap.Logger
}

// NewSubscriber subscribes to subscription (an ID or a full resource name).
func NewSubscriber(client *pubsub.Client, subscription string, logger *zap.Logger) (*Subscriber, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	if subscription == "" {
		return nil, errors.New("subscription is required")
	}
	return newSubscriber(client.Subscriber(subscription), logger), nil
}

func newSubscriber(sub receiver, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{sub: sub, logger: logger.Named("pubsub_subscriber")}
}

// Subscribe blocks, handing every decoded event to deliver. Undecodable
// messages are acked and dropped; delivery failures are nacked for
// redelivery.
func (s *Subscriber) Subscribe(ctx context.Context, deliver trigger.DeliverFunc) error {
	err := s.sub.Receive(ctx, func(msgCtx context.Context, msg *pubsub.Message) {
		if s.handle(msgCtx, msg.Data, msg.Attributes, deliver) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("receive: %w", err)
	}
	return nil
}

// handle reports whether the message should be acked.
func (s *Subscriber) handle(
	ctx context.Context,
	data []byte,
	attrs map[string]string,
	deliver trigger.DeliverFunc,
) bool {
	if attrs != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, attributeCarrier{attrs: attrs})
	}
	var ev catalog.ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		s.logger.Warn("undecodable change event dropped", zap.Error(err))
		return true
	}
	if ev.ID == "" {
		ev.ID = ev.After.ID()
	}
	if err := deliver(ctx, ev); err != nil {
		s.logger.Warn("change event delivery failed", zap.String("record_id", ev.ID), zap.Error(err))
		return false
	}
	return true
}
