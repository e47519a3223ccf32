package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/course-enricher/internal/catalog"
)

type countingHandler struct {
	mu       sync.Mutex
	seen     []string
	inflight int
	peak     int
	hold     time.Duration
	err      error
}

func (h *countingHandler) Handle(ctx context.Context, ev catalog.ChangeEvent) error {
	h.mu.Lock()
	h.seen = append(h.seen, ev.ID)
	h.inflight++
	if h.inflight > h.peak {
		h.peak = h.inflight
	}
	h.mu.Unlock()

	select {
	case <-time.After(h.hold):
	case <-ctx.Done():
	}

	h.mu.Lock()
	h.inflight--
	h.mu.Unlock()
	return h.err
}

func (h *countingHandler) count() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen), h.peak
}

func TestDispatcherCapsConcurrentInvocations(t *testing.T) {
	t.Parallel()

	handler := &countingHandler{hold: 30 * time.Millisecond}
	d, err := NewDispatcher(handler, DispatcherConfig{MaxInstances: 5, QueueDepth: 32}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	for i := range 12 {
		require.NoError(t, d.Enqueue(ctx, pendingEvent(fmt.Sprintf("r%d", i), catalog.StatusUnscraped)))
	}
	require.Eventually(t, func() bool {
		n, _ := handler.count()
		return n == 12
	}, 2*time.Second, 5*time.Millisecond)

	_, peak := handler.count()
	require.LessOrEqual(t, peak, 5)
	require.Greater(t, peak, 1)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherEnqueueDropsNonActivatingEvents(t *testing.T) {
	t.Parallel()

	d, err := NewDispatcher(&countingHandler{}, DispatcherConfig{QueueDepth: 1}, nil)
	require.NoError(t, err)

	ev := catalog.ChangeEvent{
		ID:     "x",
		Before: catalog.NewRecord("id", "x", "scrape_status", "PENDING_SCRAPE"),
		After:  catalog.NewRecord("id", "x", "scrape_status", "SCRAPING"),
	}
	for range 3 {
		require.NoError(t, d.Enqueue(context.Background(), ev))
	}
	require.Zero(t, d.queue.Len())
}

func TestDispatcherEnqueueIgnoresCreatedRecords(t *testing.T) {
	t.Parallel()

	d, err := NewDispatcher(&countingHandler{}, DispatcherConfig{QueueDepth: 1}, nil)
	require.NoError(t, err)

	ev := catalog.ChangeEvent{
		ID:      "x",
		After:   catalog.NewRecord("id", "x", "scrape_status", "PENDING_SCRAPE"),
		Created: true,
	}
	require.NoError(t, d.Enqueue(context.Background(), ev))
	require.Zero(t, d.queue.Len())
}

func TestDispatcherEnqueueWrapsQueueErrors(t *testing.T) {
	t.Parallel()

	d, err := NewDispatcher(&countingHandler{}, DispatcherConfig{QueueDepth: 1}, nil)
	require.NoError(t, err)
	require.NoError(t, d.Enqueue(context.Background(), pendingEvent("a", catalog.StatusUnscraped)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = d.Enqueue(ctx, pendingEvent("b", catalog.StatusUnscraped))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Contains(t, err.Error(), "queue enqueue")
}

func TestDispatcherKeepsWorkingAfterHandlerErrors(t *testing.T) {
	t.Parallel()

	handler := &countingHandler{err: errors.New("persist failed")}
	d, err := NewDispatcher(handler, DispatcherConfig{MaxInstances: 1}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	require.NoError(t, d.Enqueue(ctx, pendingEvent("a", catalog.StatusUnscraped)))
	require.NoError(t, d.Enqueue(ctx, pendingEvent("b", catalog.StatusUnscraped)))
	require.Eventually(t, func() bool {
		n, _ := handler.count()
		return n == 2
	}, time.Second, 5*time.Millisecond)
}

type chanSource struct {
	events []catalog.ChangeEvent
	err    error
}

func (s chanSource) Subscribe(ctx context.Context, deliver DeliverFunc) error {
	for _, ev := range s.events {
		if err := deliver(ctx, ev); err != nil {
			return err
		}
	}
	if s.err != nil {
		return s.err
	}
	<-ctx.Done()
	return nil
}

func TestDispatcherServeDeliversFromSource(t *testing.T) {
	t.Parallel()

	handler := &countingHandler{}
	d, err := NewDispatcher(handler, DispatcherConfig{}, nil)
	require.NoError(t, err)

	src := chanSource{events: []catalog.ChangeEvent{
		pendingEvent("a", catalog.StatusUnscraped),
		pendingEvent("b", catalog.StatusCompleted),
	}}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Serve(ctx, src) }()

	require.Eventually(t, func() bool {
		n, _ := handler.count()
		return n == 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)
}

func TestDispatcherServeReturnsSubscriptionError(t *testing.T) {
	t.Parallel()

	d, err := NewDispatcher(&countingHandler{}, DispatcherConfig{}, nil)
	require.NoError(t, err)

	err = d.Serve(context.Background(), chanSource{err: errors.New("subscription gone")})
	require.ErrorContains(t, err, "subscription gone")
}

func TestDispatcherServeFailsWhenStreamCloses(t *testing.T) {
	t.Parallel()

	handler := &countingHandler{}
	d, err := NewDispatcher(handler, DispatcherConfig{}, nil)
	require.NoError(t, err)

	w := &fakeWatcher{ch: make(chan catalog.ChangeEvent, 1)}
	w.ch <- pendingEvent("a", catalog.StatusUnscraped)
	close(w.ch)
	src, err := NewWatchSource(w, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = d.Serve(ctx, src)
	require.ErrorIs(t, err, errStreamClosed)
	require.NoError(t, ctx.Err())
}
