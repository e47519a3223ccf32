package extract

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/course-enricher/internal/catalog"
)

type stubExtractor struct {
	mu    sync.Mutex
	calls int
	out   string
	err   error
}

func (s *stubExtractor) Extract(context.Context, catalog.ExtractRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.out, s.err
}

type recordingWaiter struct {
	keys []string
	err  error
}

func (w *recordingWaiter) Wait(_ context.Context, key string) error {
	w.keys = append(w.keys, key)
	return w.err
}

func TestPacedWaitsBeforeDelegating(t *testing.T) {
	t.Parallel()

	next := &stubExtractor{out: "{}"}
	waiter := &recordingWaiter{}
	p := NewPaced(next, waiter, "gemini-2.5-flash")

	out, err := p.Extract(context.Background(), catalog.ExtractRequest{URL: "https://x"})
	require.NoError(t, err)
	require.Equal(t, "{}", out)
	require.Equal(t, []string{"gemini-2.5-flash"}, waiter.keys)
	require.Equal(t, 1, next.calls)
}

func TestPacedStopsWhenWaitFails(t *testing.T) {
	t.Parallel()

	next := &stubExtractor{}
	p := NewPaced(next, &recordingWaiter{err: context.Canceled}, "k")

	_, err := p.Extract(context.Background(), catalog.ExtractRequest{})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, next.calls)
}

func TestPacedWithoutWaiter(t *testing.T) {
	t.Parallel()

	next := &stubExtractor{err: errors.New("boom")}
	_, err := NewPaced(next, nil, "").Extract(context.Background(), catalog.ExtractRequest{})
	require.EqualError(t, err, "boom")
}
