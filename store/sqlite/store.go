// Package sqlite implements the store interfaces on an embedded SQLite
// database using the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/davidesb007/kashcal/store"
)

// Store is the embedded relational store backing the occurrence engine.
// Every mutating operation is a transaction scoped to a single event id,
// which bounds the blast radius of a failure and lets per-event operations
// for different events proceed concurrently.
type Store struct {
	db       *sql.DB
	notifier *store.Notifier
	logger   *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Options tunes the store.
type Options struct {
	// Debounce is the change-notification coalescing window; zero means
	// store.DefaultDebounce.
	Debounce time.Duration
	Logger   *slog.Logger
}

// Open opens (creating if needed) the database at path and migrates the
// schema. WAL mode is enabled for concurrent readers during writes.
func Open(path string, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	s := &Store{
		db:       db,
		notifier: store.NewNotifier(opts.Debounce),
		logger:   opts.Logger,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Subscribe implements store.Subscriber.
func (s *Store) Subscribe(tables ...store.Table) *store.Subscription {
	return s.notifier.Subscribe(tables...)
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS calendars (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			color TEXT NOT NULL DEFAULT '',
			account_id TEXT NOT NULL DEFAULT '',
			visible INTEGER NOT NULL DEFAULT 1
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			uid TEXT NOT NULL,
			calendar_id TEXT NOT NULL REFERENCES calendars(id),
			title TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			start_ts INTEGER NOT NULL,
			end_ts INTEGER NOT NULL,
			is_all_day INTEGER NOT NULL DEFAULT 0,
			timezone TEXT NOT NULL DEFAULT 'UTC',
			rrule TEXT,
			exdate TEXT NOT NULL DEFAULT '',
			rdate TEXT NOT NULL DEFAULT '',
			original_event_id TEXT REFERENCES events(id) ON DELETE CASCADE,
			original_instance_ts INTEGER,
			sequence INTEGER NOT NULL DEFAULT 0,
			sync_status TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_uid ON events(calendar_id, uid);`,
		`CREATE INDEX IF NOT EXISTS idx_events_original ON events(original_event_id);`,
		`CREATE TABLE IF NOT EXISTS occurrences (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
			exception_event_id TEXT REFERENCES events(id) ON DELETE SET NULL,
			calendar_id TEXT NOT NULL,
			start_ts INTEGER NOT NULL,
			end_ts INTEGER NOT NULL,
			start_day INTEGER NOT NULL,
			end_day INTEGER NOT NULL,
			is_cancelled INTEGER NOT NULL DEFAULT 0,
			UNIQUE(event_id, start_ts)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_occurrences_start ON occurrences(start_ts);`,
		`CREATE INDEX IF NOT EXISTS idx_occurrences_days ON occurrences(start_day, end_day);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// qerr tags a driver failure with the store's query-failure sentinel so
// callers can map it to the right taxonomy without string matching.
func qerr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, store.ErrQueryFailure, err)
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return qerr("begin tx", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return qerr("commit tx", err)
	}
	return nil
}
