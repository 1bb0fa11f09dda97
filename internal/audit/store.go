// Package audit keeps an append-only record of tool invocations in
// SQLite. Recording is best effort: a failed insert is logged and
// dropped, never surfaced to the caller.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// maxErrorText caps the stored error text.
const maxErrorText = 300

// Record is one tool invocation.
type Record struct {
	ID            string
	Time          time.Time
	Tool          string
	CorrelationID string
	Duration      time.Duration
	OK            bool
	ErrorText     string
}

// Store is an append-only SQLite store for tool call records. SQLite
// serializes writes, so all methods are safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (or creates) the audit database at dbPath.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tool_calls (
		id             TEXT PRIMARY KEY,
		timestamp      TEXT NOT NULL,
		tool           TEXT NOT NULL,
		correlation_id TEXT NOT NULL,
		duration_ms    INTEGER NOT NULL,
		ok             INTEGER NOT NULL,
		error          TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_timestamp ON tool_calls(timestamp);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_tool ON tool_calls(tool);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordToolCall persists one invocation. A missing ID gets a
// time-ordered UUID and a zero Time becomes now. Insert failures are
// logged and swallowed so auditing can never break a tool call.
func (s *Store) RecordToolCall(ctx context.Context, rec Record) {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			id = uuid.New()
		}
		rec.ID = id.String()
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	if len(rec.ErrorText) > maxErrorText {
		rec.ErrorText = rec.ErrorText[:maxErrorText] + "..."
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_calls (id, timestamp, tool, correlation_id, duration_ms, ok, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Time.UTC().Format(time.RFC3339),
		rec.Tool,
		rec.CorrelationID,
		rec.Duration.Milliseconds(),
		rec.OK,
		rec.ErrorText,
	)
	if err != nil {
		s.logger.Warn("audit insert failed", "tool", rec.Tool, "error", err)
	}
}

// Recent returns up to n records, newest first. Records written in the
// same second keep insertion order because UUIDv7 ids sort by time.
func (s *Store) Recent(ctx context.Context, n int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, tool, correlation_id, duration_ms, ok, error
		 FROM tool_calls
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var ts string
		var durMS int64
		if err := rows.Scan(&rec.ID, &ts, &rec.Tool, &rec.CorrelationID, &durMS, &rec.OK, &rec.ErrorText); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.Time, err = time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("parse audit timestamp %q: %w", ts, err)
		}
		rec.Duration = time.Duration(durMS) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}
