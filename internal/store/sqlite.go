// ABOUTME: SQLite implementation of the activity store using modernc.org/sqlite.
// ABOUTME: Schema is created on open; log retention is pruned on append.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// maxLogEntries bounds the logs table; the oldest rows are pruned when an
// append pushes past it.
const maxLogEntries = 2000

// SQLiteStore persists gateway activity in a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens the store at the given path, creating parent
// directories and the schema as needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for concurrent readers while the gateway appends.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS logs (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			ts        TEXT NOT NULL,
			level     TEXT NOT NULL,
			component TEXT NOT NULL,
			message   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_logs_ts ON logs(ts DESC);

		CREATE TABLE IF NOT EXISTS dispatches (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			ts             TEXT NOT NULL,
			trigger_id     TEXT NOT NULL,
			kind           TEXT NOT NULL,
			channel_id     TEXT,
			placeholder_id TEXT,
			delivered      INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_dispatches_ts ON dispatches(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_dispatches_trigger ON dispatches(trigger_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AppendLog stores one log line and prunes the table to its retention bound.
func (s *SQLiteStore) AppendLog(ctx context.Context, e LogEntry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO logs (ts, level, component, message)
		VALUES (?, ?, ?, ?)
	`, ts.UTC().Format(time.RFC3339Nano), e.Level, e.Component, e.Message)
	if err != nil {
		return fmt.Errorf("inserting log entry: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM logs WHERE id <= (
			SELECT id FROM logs ORDER BY id DESC LIMIT 1 OFFSET ?
		)
	`, maxLogEntries)
	if err != nil {
		return fmt.Errorf("pruning log entries: %w", err)
	}
	return nil
}

// RecentLogs returns up to limit log lines, newest first.
func (s *SQLiteStore) RecentLogs(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit <= 0 || limit > maxLogEntries {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, level, component, message
		FROM logs
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying logs: %w", err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Level, &e.Component, &e.Message); err != nil {
			return nil, fmt.Errorf("scanning log row: %w", err)
		}
		e.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing log timestamp: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating log rows: %w", err)
	}
	return out, nil
}

// RecordDispatch stores one webhook delivery attempt.
func (s *SQLiteStore) RecordDispatch(ctx context.Context, r DispatchRecord) error {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dispatches (ts, trigger_id, kind, channel_id, placeholder_id, delivered)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ts.UTC().Format(time.RFC3339Nano), r.TriggerID, r.Kind, r.ChannelID, r.PlaceholderID, boolToInt(r.Delivered))
	if err != nil {
		return fmt.Errorf("inserting dispatch record: %w", err)
	}
	return nil
}

// RecentDispatches returns up to limit delivery attempts, newest first.
func (s *SQLiteStore) RecentDispatches(ctx context.Context, limit int) ([]DispatchRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, trigger_id, kind, channel_id, placeholder_id, delivered
		FROM dispatches
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying dispatches: %w", err)
	}
	defer rows.Close()

	var out []DispatchRecord
	for rows.Next() {
		var r DispatchRecord
		var ts string
		var delivered int
		if err := rows.Scan(&r.ID, &ts, &r.TriggerID, &r.Kind, &r.ChannelID, &r.PlaceholderID, &delivered); err != nil {
			return nil, fmt.Errorf("scanning dispatch row: %w", err)
		}
		r.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing dispatch timestamp: %w", err)
		}
		r.Delivered = delivered != 0
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dispatch rows: %w", err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
