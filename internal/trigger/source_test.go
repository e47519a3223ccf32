package trigger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/course-enricher/internal/catalog"
	eventmemory "github.com/JakeFAU/course-enricher/internal/events/memory"
)

type fakeWatcher struct {
	ch  chan catalog.ChangeEvent
	err error
}

func (w *fakeWatcher) Watch(context.Context) (<-chan catalog.ChangeEvent, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.ch, nil
}

func TestWatchSourceDeliversThenReportsClosedStream(t *testing.T) {
	t.Parallel()

	w := &fakeWatcher{ch: make(chan catalog.ChangeEvent, 3)}
	w.ch <- pendingEvent("a", catalog.StatusUnscraped)
	w.ch <- pendingEvent("b", catalog.StatusUnscraped)
	w.ch <- pendingEvent("c", catalog.StatusUnscraped)
	close(w.ch)

	src, err := NewWatchSource(w, nil)
	require.NoError(t, err)

	var got []string
	err = src.Subscribe(context.Background(), func(_ context.Context, ev catalog.ChangeEvent) error {
		got = append(got, ev.ID)
		if ev.ID == "b" {
			return errors.New("queue full")
		}
		return nil
	})
	require.ErrorIs(t, err, errStreamClosed)
	require.Equal(t, []string{"a", "b", "c"}, got)
}

func TestWatchSourceClosedAfterCancelIsClean(t *testing.T) {
	t.Parallel()

	w := &fakeWatcher{ch: make(chan catalog.ChangeEvent)}
	src, err := NewWatchSource(w, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	close(w.ch)
	require.NoError(t, src.Subscribe(ctx, func(context.Context, catalog.ChangeEvent) error { return nil }))
}

func TestWatchSourceStopsOnCancel(t *testing.T) {
	t.Parallel()

	src, err := NewWatchSource(&fakeWatcher{ch: make(chan catalog.ChangeEvent)}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, src.Subscribe(ctx, func(context.Context, catalog.ChangeEvent) error { return nil }))
}

func TestWatchSourceWatchError(t *testing.T) {
	t.Parallel()

	src, err := NewWatchSource(&fakeWatcher{err: errors.New("listen failed")}, nil)
	require.NoError(t, err)
	err = src.Subscribe(context.Background(), nil)
	require.ErrorContains(t, err, "listen failed")

	_, err = NewWatchSource(nil, nil)
	require.Error(t, err)
}

func TestForwarderPublishesActivatingEvents(t *testing.T) {
	t.Parallel()

	w := &fakeWatcher{ch: make(chan catalog.ChangeEvent, 3)}
	w.ch <- pendingEvent("a", catalog.StatusUnscraped)
	w.ch <- pendingEvent("b", catalog.StatusPending)
	w.ch <- pendingEvent("c", catalog.StatusError)
	close(w.ch)

	pub := eventmemory.New()
	f, err := NewForwarder(w, pub, "record-changes", nil)
	require.NoError(t, err)
	require.ErrorIs(t, f.Run(context.Background()), errStreamClosed)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "a", msgs[0].Payload.(catalog.ChangeEvent).ID)
	require.Equal(t, "c", msgs[1].Payload.(catalog.ChangeEvent).ID)
	require.Equal(t, "record-changes", msgs[1].Topic)
}

func TestForwarderSurvivesPublishErrors(t *testing.T) {
	t.Parallel()

	w := &fakeWatcher{ch: make(chan catalog.ChangeEvent, 1)}
	w.ch <- pendingEvent("a", catalog.StatusUnscraped)
	close(w.ch)

	pub := eventmemory.New()
	pub.FailWith(errors.New("unavailable"))
	f, err := NewForwarder(w, pub, "t", nil)
	require.NoError(t, err)
	require.ErrorIs(t, f.Run(context.Background()), errStreamClosed)
	require.Empty(t, pub.Messages())

	_, err = NewForwarder(w, eventmemory.New(), "", nil)
	require.Error(t, err)
}
