package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/course-enricher/internal/catalog"
	"github.com/JakeFAU/course-enricher/internal/metrics"
	"github.com/JakeFAU/course-enricher/internal/queue/memory"
)

// Dispatcher defaults.
const (
	DefaultMaxInstances = 5
	DefaultQueueDepth   = 64
)

// EventHandler processes one change event.
type EventHandler interface {
	Handle(ctx context.Context, ev catalog.ChangeEvent) error
}

// DispatcherConfig bounds trigger concurrency.
type DispatcherConfig struct {
	// MaxInstances is the number of workers, and so the maximum number of
	// concurrent handler invocations.
	MaxInstances int
	QueueDepth   int
}

// Dispatcher fans change events out to a fixed pool of workers.
type Dispatcher struct {
	queue   *memory.Queue[catalog.ChangeEvent]
	handler EventHandler
	workers int
	logger  *zap.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(handler EventHandler, cfg DispatcherConfig, logger *zap.Logger) (*Dispatcher, error) {
	if handler == nil {
		return nil, errors.New("dispatcher needs a handler")
	}
	if cfg.MaxInstances <= 0 {
		cfg.MaxInstances = DefaultMaxInstances
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   memory.NewQueue[catalog.ChangeEvent](cfg.QueueDepth),
		handler: handler,
		workers: cfg.MaxInstances,
		logger:  logger.Named("dispatcher"),
	}, nil
}

// Enqueue queues ev for a worker. Events that cannot activate enrichment are
// dropped here so status writes made by the handler itself never occupy a
// queue slot.
func (d *Dispatcher) Enqueue(ctx context.Context, ev catalog.ChangeEvent) error {
	if !ev.Activates() {
		metrics.ObserveTriggerSkipped()
		return nil
	}
	if err := d.queue.Enqueue(ctx, ev); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range d.workers {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			d.work(ctx, n)
		}(i)
	}
	<-ctx.Done()
	wg.Wait()
}

// Serve runs the workers and feeds them from src until the subscription
// ends or ctx finishes.
func (d *Dispatcher) Serve(ctx context.Context, src Source) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.Run(ctx)
	}()

	err := src.Subscribe(ctx, d.Enqueue)
	cancel()
	wg.Wait()
	if err != nil {
		return fmt.Errorf("trigger subscription: %w", err)
	}
	return nil
}

func (d *Dispatcher) work(ctx context.Context, n int) {
	logger := d.logger.With(zap.Int("worker", n))
	for {
		ev, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, memory.ErrClosed) {
				return
			}
			logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		logger.Debug("dequeued change event", zap.String("record_id", ev.ID))
		if err := d.handler.Handle(ctx, ev); err != nil {
			logger.Error("trigger invocation failed", zap.String("record_id", ev.ID), zap.Error(err))
		}
	}
}
