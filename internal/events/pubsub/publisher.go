package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
)

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type topicPublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) publishResult
	Stop()
}

type clientPublisher struct {
	p *pubsub.Publisher
}

func (c clientPublisher) Publish(ctx context.Context, msg *pubsub.Message) publishResult {
	return c.p.Publish(ctx, msg)
}

func (c clientPublisher) Stop() {
	c.p.Stop()
}

// Publisher publishes JSON payloads, one topic publisher per topic name.
type Publisher struct {
	open func(topic string) topicPublisher

	mu     sync.Mutex
	topics map[string]topicPublisher
}

// NewPublisher creates a Publisher on client.
func NewPublisher(client *pubsub.Client) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	return newPublisher(func(topic string) topicPublisher {
		return clientPublisher{p: client.Publisher(topic)}
	}), nil
}

func newPublisher(open func(topic string) topicPublisher) *Publisher {
	return &Publisher{open: open, topics: make(map[string]topicPublisher)}
}

// Publish marshals payload to JSON and waits for the server to accept it.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", errors.New("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: make(map[string]string)}
	otel.GetTextMapPropagator().Inject(ctx, attributeCarrier{attrs: msg.Attributes})

	id, err := p.topic(topic).Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

func (p *Publisher) topic(name string) topicPublisher {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = p.open(name)
		p.topics[name] = t
	}
	return t
}

// Close flushes and stops every topic publisher.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, t := range p.topics {
		t.Stop()
		delete(p.topics, name)
	}
}
