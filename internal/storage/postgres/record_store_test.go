package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/course-enricher/internal/catalog"
)

var fixedNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newMockRecordStore(t *testing.T) (*RecordStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s, err := NewRecordStoreWithPool(mock, RecordStoreConfig{}, zap.NewNop())
	require.NoError(t, err)
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

func TestRecordStoreConfigValidatesIdentifiers(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewRecordStoreWithPool(mock, RecordStoreConfig{Table: "records; DROP TABLE x"}, nil)
	require.Error(t, err)
	_, err = NewRecordStoreWithPool(mock, RecordStoreConfig{Channel: "bad-channel"}, nil)
	require.Error(t, err)
	_, err = NewRecordStoreWithPool(nil, RecordStoreConfig{}, nil)
	require.Error(t, err)
}

func TestRecordStoreListKeepsFieldOrder(t *testing.T) {
	t.Parallel()

	s, mock := newMockRecordStore(t)
	mock.ExpectQuery("SELECT data FROM catalog_records ORDER BY position").
		WillReturnRows(mock.NewRows([]string{"data"}).
			AddRow([]byte(`{"id":"b","title":"Zeta","location":"Köln"}`)).
			AddRow([]byte(`{"id":"a","scrape_status":"COMPLETED"}`)))

	records, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"id", "title", "location"}, records[0].Keys())
	assert.Equal(t, catalog.StatusCompleted, records[1].Status())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreGetNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockRecordStore(t)
	mock.ExpectQuery("SELECT data FROM catalog_records WHERE id").
		WithArgs("missing").
		WillReturnRows(mock.NewRows([]string{"data"}))

	_, err := s.Get(context.Background(), "missing")
	require.ErrorIs(t, err, catalog.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreUpdateMergesAndNotifies(t *testing.T) {
	t.Parallel()

	s, mock := newMockRecordStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT data FROM catalog_records WHERE id .* FOR UPDATE").
		WithArgs("a").
		WillReturnRows(mock.NewRows([]string{"data"}).
			AddRow([]byte(`{"id":"a","title":"Old","scrape_status":"ERROR"}`)))
	mock.ExpectExec("UPDATE catalog_records SET data").
		WithArgs("a", []byte(`{"id":"a","title":"Old","scrape_status":"PENDING_SCRAPE","error":null}`), fixedNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("SELECT pg_notify").
		WithArgs(DefaultRecordChannel,
			`{"id":"a","before_status":"ERROR","after_status":"PENDING_SCRAPE","at":"2025-03-01T10:00:00Z"}`).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectCommit()

	err := s.Update(context.Background(), "a",
		catalog.NewRecord("id", "ignored", "scrape_status", "PENDING_SCRAPE", "error", nil))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreUpdateMissingRollsBack(t *testing.T) {
	t.Parallel()

	s, mock := newMockRecordStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT data FROM catalog_records WHERE id .* FOR UPDATE").
		WithArgs("nope").
		WillReturnRows(mock.NewRows([]string{"data"}))
	mock.ExpectRollback()

	err := s.Update(context.Background(), "nope", catalog.NewRecord("title", "x"))
	require.ErrorIs(t, err, catalog.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreUpsertInsertsNewRecords(t *testing.T) {
	t.Parallel()

	s, mock := newMockRecordStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT data FROM catalog_records WHERE id .* FOR UPDATE").
		WithArgs("n1").
		WillReturnRows(mock.NewRows([]string{"data"}))
	mock.ExpectExec("INSERT INTO catalog_records").
		WithArgs("n1", []byte(`{"id":"n1","title":"Data Science"}`), fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("SELECT pg_notify").
		WithArgs(DefaultRecordChannel,
			`{"id":"n1","before_status":"","after_status":"","created":true,"at":"2025-03-01T10:00:00Z"}`).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectCommit()

	err := s.Upsert(context.Background(), []catalog.Record{catalog.NewRecord("title", "Data Science", "id", "n1")})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreUpsertRejectsMissingID(t *testing.T) {
	t.Parallel()

	s, mock := newMockRecordStore(t)
	err := s.Upsert(context.Background(), []catalog.Record{catalog.NewRecord("title", "x")})
	var validation *catalog.ValidationError
	require.ErrorAs(t, err, &validation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreSetStatusWriteFailureRollsBack(t *testing.T) {
	t.Parallel()

	s, mock := newMockRecordStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT data FROM catalog_records WHERE id .* FOR UPDATE").
		WithArgs("a").
		WillReturnRows(mock.NewRows([]string{"data"}).AddRow([]byte(`{"id":"a","scrape_status":"COMPLETED"}`)))
	mock.ExpectExec("UPDATE catalog_records SET data").
		WithArgs("a", []byte(`{"id":"a"}`), fixedNow).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.SetStatus(context.Background(), []string{"a"}, catalog.StatusUnscraped)
	require.ErrorContains(t, err, "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

type fakeListener struct {
	channel string
	notes   chan *pgconn.Notification
	closed  chan struct{}
}

func (l *fakeListener) Listen(_ context.Context, channel string) error {
	l.channel = channel
	return nil
}

func (l *fakeListener) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case n := <-l.notes:
		return n, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *fakeListener) Close(context.Context) error {
	close(l.closed)
	return nil
}

func TestRecordStoreWatchBuildsChangeEvents(t *testing.T) {
	t.Parallel()

	s, mock := newMockRecordStore(t)
	l := &fakeListener{notes: make(chan *pgconn.Notification, 2), closed: make(chan struct{})}
	s.dial = func(context.Context) (listener, error) { return l, nil }

	mock.ExpectQuery("SELECT data FROM catalog_records WHERE id").
		WithArgs("a").
		WillReturnRows(mock.NewRows([]string{"data"}).
			AddRow([]byte(`{"id":"a","study_url":"https://uni.example","scrape_status":"SCRAPING"}`)))

	ctx, cancel := context.WithCancel(context.Background())
	events, err := s.Watch(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultRecordChannel, l.channel)

	l.notes <- &pgconn.Notification{Payload: "not json"}
	l.notes <- &pgconn.Notification{Payload: `{"id":"a","before_status":"","after_status":"PENDING_SCRAPE","at":"2025-03-01T10:00:00Z"}`}

	select {
	case ev := <-events:
		assert.Equal(t, "a", ev.ID)
		assert.Equal(t, catalog.StatusUnscraped, ev.Before.Status())
		assert.Equal(t, catalog.StatusPending, ev.After.Status())
		assert.Equal(t, "https://uni.example", ev.After.String("study_url"))
		assert.Equal(t, fixedNow, ev.At)
	case <-time.After(time.Second):
		t.Fatal("no change event")
	}

	cancel()
	select {
	case <-l.closed:
	case <-time.After(time.Second):
		t.Fatal("listener not closed")
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreChangeEventForInsert(t *testing.T) {
	t.Parallel()

	s, mock := newMockRecordStore(t)
	mock.ExpectQuery("SELECT data FROM catalog_records WHERE id").
		WithArgs("n1").
		WillReturnRows(mock.NewRows([]string{"data"}).
			AddRow([]byte(`{"id":"n1","scrape_status":"PENDING_SCRAPE"}`)))

	ev, ok := s.changeEvent(context.Background(),
		`{"id":"n1","before_status":"","after_status":"PENDING_SCRAPE","created":true,"at":"2025-03-01T10:00:00Z"}`)
	require.True(t, ok)
	assert.True(t, ev.Created)
	assert.Zero(t, ev.Before.Len())
	assert.Equal(t, catalog.StatusPending, ev.After.Status())
	assert.False(t, ev.Activates())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreWatchWithoutListener(t *testing.T) {
	t.Parallel()

	s, _ := newMockRecordStore(t)
	_, err := s.Watch(context.Background())
	require.Error(t, err)
}

func TestRecordStorePing(t *testing.T) {
	t.Parallel()

	s, mock := newMockRecordStore(t)
	mock.ExpectQuery(`SELECT 1`).WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
	require.NoError(t, s.Ping(context.Background()))

	mock.ExpectQuery(`SELECT 1`).WillReturnError(errors.New("down"))
	err := s.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping postgres")
	require.NoError(t, mock.ExpectationsWereMet())
}
