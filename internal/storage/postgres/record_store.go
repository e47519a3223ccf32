package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/course-enricher/internal/catalog"
)

// Record store defaults.
const (
	DefaultRecordTable   = "catalog_records"
	DefaultRecordChannel = "catalog_record_changes"
)

// RecordStoreConfig names the table and notification channel.
type RecordStoreConfig struct {
	Pool    PoolConfig
	Table   string
	Channel string
}

func (c RecordStoreConfig) withDefaults() (RecordStoreConfig, error) {
	if c.Table == "" {
		c.Table = DefaultRecordTable
	}
	if c.Channel == "" {
		c.Channel = DefaultRecordChannel
	}
	if err := checkIdentifier("table", c.Table); err != nil {
		return c, err
	}
	if err := checkIdentifier("channel", c.Channel); err != nil {
		return c, err
	}
	return c, nil
}

// RecordStore keeps catalog records as json documents, one row per record.
// The json type (not jsonb) preserves each record's field order. Every write
// notifies Channel so watchers can follow status changes.
type RecordStore struct {
	pool    dbPool
	table   string
	channel string
	dial    func(ctx context.Context) (listener, error)
	now     func() time.Time
	logger  *zap.Logger
}

// NewRecordStore connects to Postgres.
func NewRecordStore(ctx context.Context, cfg RecordStoreConfig, logger *zap.Logger) (*RecordStore, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	pool, err := NewPool(ctx, cfg.Pool)
	if err != nil {
		return nil, err
	}
	s := newRecordStore(pool, cfg, logger)
	dsn := cfg.Pool.DSN
	s.dial = func(ctx context.Context) (listener, error) {
		conn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("connect listener: %w", err)
		}
		return &connListener{conn: conn}, nil
	}
	return s, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily
// for testing). Watch is unavailable until a listener is provided.
func NewRecordStoreWithPool(pool dbPool, cfg RecordStoreConfig, logger *zap.Logger) (*RecordStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	return newRecordStore(pool, cfg, logger), nil
}

func newRecordStore(pool dbPool, cfg RecordStoreConfig, logger *zap.Logger) *RecordStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordStore{
		pool:    pool,
		table:   cfg.Table,
		channel: cfg.Channel,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.Named("record_store"),
	}
}

// Close closes the underlying connection pool.
func (s *RecordStore) Close() {
	s.pool.Close()
}

// Ping checks that the database answers.
func (s *RecordStore) Ping(ctx context.Context) error {
	var one int
	if err := s.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the record table when missing.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id         text PRIMARY KEY,
			position   bigserial,
			data       json NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now()
		);`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create record schema: %w", err)
	}
	return nil
}

// List returns every record in insertion order.
func (s *RecordStore) List(ctx context.Context) ([]catalog.Record, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT data FROM %s ORDER BY position;`, s.table))
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	records := []catalog.Record{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

// Get loads one record.
func (s *RecordStore) Get(ctx context.Context, id string) (catalog.Record, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT data FROM %s WHERE id = $1;`, s.table), id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Record{}, fmt.Errorf("get %s: %w", id, catalog.ErrNotFound)
		}
		return catalog.Record{}, fmt.Errorf("get record %s: %w", id, err)
	}
	return decodeRecord(raw)
}

// Upsert merges every record into its stored row in one transaction.
func (s *RecordStore) Upsert(ctx context.Context, records []catalog.Record) error {
	for _, rec := range records {
		if rec.ID() == "" {
			return &catalog.ValidationError{Msg: "record without id"}
		}
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		for _, rec := range records {
			update := rec.Clone()
			err := s.mutate(ctx, tx, rec.ID(), true, func(after *catalog.Record) {
				update.Delete(catalog.FieldID)
				after.Merge(update)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Update merges fields into an existing record.
func (s *RecordStore) Update(ctx context.Context, id string, fields catalog.Record) error {
	update := fields.Clone()
	update.Delete(catalog.FieldID)
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return s.mutate(ctx, tx, id, false, func(after *catalog.Record) {
			after.Merge(update)
		})
	})
}

// SetStatus writes status to every listed record atomically.
func (s *RecordStore) SetStatus(ctx context.Context, ids []string, status catalog.Status) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		for _, id := range ids {
			err := s.mutate(ctx, tx, id, false, func(after *catalog.Record) {
				if status == catalog.StatusUnscraped {
					after.Delete(catalog.FieldStatus)
					return
				}
				after.Set(catalog.FieldStatus, string(status))
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *RecordStore) inTx(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// mutate locks the row of id, applies change and notifies watchers.
func (s *RecordStore) mutate(
	ctx context.Context,
	tx pgx.Tx,
	id string,
	create bool,
	change func(after *catalog.Record),
) error {
	var raw []byte
	err := tx.QueryRow(ctx, fmt.Sprintf(`SELECT data FROM %s WHERE id = $1 FOR UPDATE;`, s.table), id).Scan(&raw)
	exists := true
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if !create {
			return fmt.Errorf("update %s: %w", id, catalog.ErrNotFound)
		}
		exists = false
	case err != nil:
		return fmt.Errorf("lock record %s: %w", id, err)
	}

	var before catalog.Record
	if exists {
		if before, err = decodeRecord(raw); err != nil {
			return err
		}
	}
	after := before.Clone()
	if !exists {
		after = catalog.NewRecord(catalog.FieldID, id)
	}
	change(&after)
	data, err := json.Marshal(after)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", id, err)
	}

	now := s.now()
	if exists {
		_, err = tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET data = $2, updated_at = $3 WHERE id = $1;`, s.table),
			id, data, now)
	} else {
		_, err = tx.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (id, data, updated_at) VALUES ($1, $2, $3);`, s.table),
			id, data, now)
	}
	if err != nil {
		return fmt.Errorf("write record %s: %w", id, err)
	}

	payload, err := json.Marshal(notification{
		ID:      id,
		Before:  string(before.Status()),
		After:   string(after.Status()),
		Created: !exists,
		At:      now,
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2);`, s.channel, string(payload)); err != nil {
		return fmt.Errorf("notify %s: %w", s.channel, err)
	}
	return nil
}

func decodeRecord(raw []byte) (catalog.Record, error) {
	var rec catalog.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return catalog.Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}
