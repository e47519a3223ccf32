package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/course-enricher/internal/catalog"
)

// RecordStore keeps catalog records in insertion order and streams change
// events to watchers. It backs development setups and tests.
type RecordStore struct {
	mu      sync.RWMutex
	order   []string
	records map[string]catalog.Record
	now     func() time.Time

	subMu   sync.Mutex
	subs    map[int]*subscriber
	nextSub int
}

// NewRecordStore constructs an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		records: make(map[string]catalog.Record),
		now:     func() time.Time { return time.Now().UTC() },
		subs:    make(map[int]*subscriber),
	}
}

// List returns every record in insertion order.
func (s *RecordStore) List(_ context.Context) ([]catalog.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id].Clone())
	}
	return out, nil
}

// Get returns one record.
func (s *RecordStore) Get(_ context.Context, id string) (catalog.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return catalog.Record{}, fmt.Errorf("get %s: %w", id, catalog.ErrNotFound)
	}
	return rec.Clone(), nil
}

// Upsert merges each record into the stored one with the same id, creating
// it when missing.
func (s *RecordStore) Upsert(_ context.Context, records []catalog.Record) error {
	for _, rec := range records {
		if rec.ID() == "" {
			return &catalog.ValidationError{Msg: "record without id"}
		}
	}
	s.mu.Lock()
	events := make([]catalog.ChangeEvent, 0, len(records))
	for _, rec := range records {
		events = append(events, s.applyLocked(rec.ID(), rec, true))
	}
	s.publish(events...)
	s.mu.Unlock()
	return nil
}

// Update merges fields into an existing record.
func (s *RecordStore) Update(_ context.Context, id string, fields catalog.Record) error {
	s.mu.Lock()
	if _, ok := s.records[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("update %s: %w", id, catalog.ErrNotFound)
	}
	s.publish(s.applyLocked(id, fields, false))
	s.mu.Unlock()
	return nil
}

// SetStatus writes status to every listed record. Unscraped removes the
// field. Nothing is written when any id is unknown.
func (s *RecordStore) SetStatus(_ context.Context, ids []string, status catalog.Status) error {
	s.mu.Lock()
	for _, id := range ids {
		if _, ok := s.records[id]; !ok {
			s.mu.Unlock()
			return fmt.Errorf("set status %s: %w", id, catalog.ErrNotFound)
		}
	}
	events := make([]catalog.ChangeEvent, 0, len(ids))
	for _, id := range ids {
		before := s.records[id]
		after := before.Clone()
		if status == catalog.StatusUnscraped {
			after.Delete(catalog.FieldStatus)
		} else {
			after.Set(catalog.FieldStatus, string(status))
		}
		s.records[id] = after
		events = append(events, catalog.ChangeEvent{ID: id, Before: before.Clone(), After: after.Clone(), At: s.now()})
	}
	s.publish(events...)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored records.
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *RecordStore) applyLocked(id string, fields catalog.Record, create bool) catalog.ChangeEvent {
	before, exists := s.records[id]
	var after catalog.Record
	if exists {
		after = before.Clone()
	} else if create {
		after = catalog.NewRecord(catalog.FieldID, id)
		s.order = append(s.order, id)
	}
	update := fields.Clone()
	update.Delete(catalog.FieldID)
	after.Merge(update)
	s.records[id] = after
	return catalog.ChangeEvent{ID: id, Before: before.Clone(), After: after.Clone(), Created: !exists, At: s.now()}
}

// Watch streams every subsequent write until ctx ends. Slow readers never
// block writers; events queue per watcher.
func (s *RecordStore) Watch(ctx context.Context) (<-chan catalog.ChangeEvent, error) {
	sub := &subscriber{
		wake: make(chan struct{}, 1),
		out:  make(chan catalog.ChangeEvent),
	}
	s.subMu.Lock()
	key := s.nextSub
	s.nextSub++
	s.subs[key] = sub
	s.subMu.Unlock()

	go func() {
		sub.forward(ctx)
		s.subMu.Lock()
		delete(s.subs, key)
		s.subMu.Unlock()
	}()
	return sub.out, nil
}

// publish runs under the write lock so watchers see writes in commit order.
func (s *RecordStore) publish(events ...catalog.ChangeEvent) {
	if len(events) == 0 {
		return
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, sub := range s.subs {
		sub.push(events)
	}
}

type subscriber struct {
	mu      sync.Mutex
	pending []catalog.ChangeEvent
	wake    chan struct{}
	out     chan catalog.ChangeEvent
}

func (s *subscriber) push(events []catalog.ChangeEvent) {
	s.mu.Lock()
	s.pending = append(s.pending, events...)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) forward(ctx context.Context) {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
				continue
			}
		}
		ev := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
		select {
		case s.out <- ev:
		case <-ctx.Done():
			return
		}
	}
}
