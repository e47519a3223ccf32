package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/JakeFAU/course-enricher/internal/catalog"
)

// notification is the pg_notify payload. Payloads are capped at 8000 bytes,
// so only statuses travel; the watcher loads the current record.
type notification struct {
	ID      string    `json:"id"`
	Before  string    `json:"before_status"`
	After   string    `json:"after_status"`
	Created bool      `json:"created,omitempty"`
	At      time.Time `json:"at"`
}

type listener interface {
	Listen(ctx context.Context, channel string) error
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

type connListener struct {
	conn *pgx.Conn
}

func (l *connListener) Listen(ctx context.Context, channel string) error {
	_, err := l.conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize())
	return err
}

func (l *connListener) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	return l.conn.WaitForNotification(ctx)
}

func (l *connListener) Close(ctx context.Context) error {
	return l.conn.Close(ctx)
}

// Watch listens on the store's channel on a dedicated connection and emits a
// change event per notification. Before carries only the previous status.
func (s *RecordStore) Watch(ctx context.Context) (<-chan catalog.ChangeEvent, error) {
	if s.dial == nil {
		return nil, errors.New("record store has no listener")
	}
	l, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := l.Listen(ctx, s.channel); err != nil {
		_ = l.Close(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("listen %s: %w", s.channel, err)
	}

	out := make(chan catalog.ChangeEvent)
	go func() {
		defer close(out)
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = l.Close(closeCtx)
		}()
		for {
			n, err := l.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Error("wait for notification failed", zap.Error(err))
				}
				return
			}
			ev, ok := s.changeEvent(ctx, n.Payload)
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *RecordStore) changeEvent(ctx context.Context, payload string) (catalog.ChangeEvent, bool) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil || n.ID == "" {
		s.logger.Warn("malformed notification", zap.String("payload", payload), zap.Error(err))
		return catalog.ChangeEvent{}, false
	}
	var before catalog.Record
	if !n.Created {
		before = catalog.NewRecord(catalog.FieldID, n.ID)
		if n.Before != "" {
			before.Set(catalog.FieldStatus, n.Before)
		}
	}
	after, err := s.Get(ctx, n.ID)
	if err != nil {
		s.logger.Warn("changed record not readable", zap.String("record_id", n.ID), zap.Error(err))
		return catalog.ChangeEvent{}, false
	}
	// The row may have moved on since the notification; report the status
	// this write produced so the activation guard sees the real transition.
	if n.After == "" {
		after.Delete(catalog.FieldStatus)
	} else {
		after.Set(catalog.FieldStatus, n.After)
	}
	return catalog.ChangeEvent{ID: n.ID, Before: before, After: after, Created: n.Created, At: n.At}, true
}
