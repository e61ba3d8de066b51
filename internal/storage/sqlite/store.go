package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gyaneshwarpardhi/chronicle/internal/event"
	"github.com/gyaneshwarpardhi/chronicle/internal/storage"
	"github.com/gyaneshwarpardhi/chronicle/internal/storage/sqlite/migrations"
)

// Store keeps events in an append-only table ordered by an autoincrement
// sequence, and documents in a key/value table.
//
// The pool is limited to one connection, so every transaction holds the
// database exclusively for its duration.
type Store struct {
	sqlDB  *sql.DB
	closed atomic.Bool
}

// Open opens (or creates) the SQLite database at path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: storage path is required", storage.ErrStoreUnavailable)
	}

	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite db: %w", storage.ErrStoreUnavailable, err)
	}
	sqlDB.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("%w: ping sqlite db: %w", storage.ErrStoreUnavailable, err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("%w: run migrations: %w", storage.ErrStoreUnavailable, err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the underlying database. Later calls fail with ErrStoreUnavailable.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil || s.closed.Swap(true) {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil || s.closed.Load() {
		return storage.ErrStoreUnavailable
	}
	return nil
}

// Append inserts evt as the next row of the events table.
func (s *Store) Append(ctx context.Context, evt event.Event) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if err := storage.CheckPayload(evt); err != nil {
		return err
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO events (id, kind, aggregate_id, payload, timestamp) VALUES (?, ?, ?, ?, ?)`,
		evt.ID, evt.Kind, evt.AggregateID, string(evt.Payload), evt.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append event %s: %w", evt.ID, err)
	}
	return nil
}

// All reads the events table in sequence order.
func (s *Store) All(ctx context.Context) ([]event.Event, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT seq, id, kind, aggregate_id, payload, timestamp FROM events ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	corrupt := &storage.CorruptError{Collection: storage.EventsCollection}
	events := make([]event.Event, 0)
	for rows.Next() {
		var (
			seq     int64
			evt     event.Event
			payload string
		)
		if err := rows.Scan(&seq, &evt.ID, &evt.Kind, &evt.AggregateID, &payload, &evt.Timestamp); err != nil {
			corrupt.Skip(strconv.FormatInt(seq, 10), err)
			continue
		}
		if !json.Valid([]byte(payload)) {
			corrupt.Skip(strconv.FormatInt(seq, 10), errors.New("payload is not valid JSON"))
			continue
		}
		evt.Payload = json.RawMessage(payload)
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, corrupt.OrNil()
}

// Load returns the document stored under key.
func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	var doc []byte
	err := s.sqlDB.QueryRowContext(ctx, `SELECT value FROM documents WHERE key = ?`, key).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", key, err)
	}
	return doc, nil
}

// Update reads, transforms and writes the document inside one transaction.
func (s *Store) Update(ctx context.Context, key string, fn func([]byte) ([]byte, error)) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current []byte
	err = tx.QueryRowContext(ctx, `SELECT value FROM documents WHERE key = ?`, key).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("load document %s: %w", key, err)
	}

	next, err := fn(current)
	if err != nil {
		return err
	}

	if next == nil {
		_, err = tx.ExecContext(ctx, `DELETE FROM documents WHERE key = ?`, key)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO documents (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, next, time.Now().UTC().UnixMilli(),
		)
	}
	if err != nil {
		return fmt.Errorf("write document %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit document %s: %w", key, err)
	}
	return nil
}
