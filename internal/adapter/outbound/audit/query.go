package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aegisrun/aegis/internal/domain/audit"
)

// QueryIndex is a SQLite-backed audit.QueryStore. Queries never run against
// the append-only JSONL file itself; FileLogger and QueryIndex are indexed
// together by IndexingLogger so every Log call lands in both.
type QueryIndex struct {
	db *sql.DB
}

// OpenQueryIndex opens (creating if absent) the SQLite database at path and
// ensures its schema exists.
func OpenQueryIndex(path string) (*QueryIndex, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("audit: create index dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open index: %w", err)
	}
	db.SetMaxOpenConns(1)

	q := &QueryIndex{db: db}
	if err := q.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return q, nil
}

func (q *QueryIndex) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id       TEXT PRIMARY KEY,
			timestamp_utc  TEXT NOT NULL,
			session_id     TEXT NOT NULL,
			event_type     TEXT NOT NULL,
			tool_name      TEXT,
			outcome        TEXT,
			payload_json   TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_events_tool ON events(tool_name);`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);`,
	}
	for _, stmt := range stmts {
		if _, err := q.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("audit: migrate index: %w", err)
		}
	}
	return nil
}

// Index inserts rec into the query index. Safe to call concurrently; SQLite
// serializes writers internally and the pool is capped at one connection.
func (q *QueryIndex) Index(ctx context.Context, rec audit.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: marshal record for index: %w", err)
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO events (event_id, timestamp_utc, session_id, event_type, tool_name, outcome, payload_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.EventID, rec.TimestampUTC.UTC().Format(time.RFC3339Nano), rec.SessionID, string(rec.EventType), rec.ToolName, rec.Outcome, string(payload),
	)
	if err != nil {
		return fmt.Errorf("audit: index record: %w", err)
	}
	return nil
}

// Query returns records matching filter, newest first.
func (q *QueryIndex) Query(ctx context.Context, filter audit.Filter) ([]audit.Record, error) {
	var clauses []string
	var args []any

	if filter.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.ToolName != "" {
		clauses = append(clauses, "tool_name = ?")
		args = append(args, filter.ToolName)
	}
	if filter.EventType != "" {
		clauses = append(clauses, "event_type = ?")
		args = append(args, string(filter.EventType))
	}
	if !filter.Start.IsZero() {
		clauses = append(clauses, "timestamp_utc >= ?")
		args = append(args, filter.Start.UTC().Format(time.RFC3339Nano))
	}
	if !filter.End.IsZero() {
		clauses = append(clauses, "timestamp_utc <= ?")
		args = append(args, filter.End.UTC().Format(time.RFC3339Nano))
	}

	query := "SELECT payload_json FROM events"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY timestamp_utc DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query index: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []audit.Record
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("audit: scan row: %w", err)
		}
		var rec audit.Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("audit: unmarshal row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Stats aggregates per-tool and per-event-type counts over [start, end].
func (q *QueryIndex) Stats(ctx context.Context, start, end time.Time) (*audit.Stats, error) {
	stats := &audit.Stats{
		ByTool:      make(map[string]audit.ToolStats),
		ByEventType: make(map[audit.EventType]int64),
	}

	rows, err := q.db.QueryContext(ctx,
		`SELECT event_type, COALESCE(tool_name, ''), outcome FROM events
		 WHERE timestamp_utc >= ? AND timestamp_utc <= ?`,
		start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("audit: query stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var eventType, toolName, outcome string
		if err := rows.Scan(&eventType, &toolName, &outcome); err != nil {
			return nil, fmt.Errorf("audit: scan stats row: %w", err)
		}
		stats.TotalEvents++
		stats.ByEventType[audit.EventType(eventType)]++

		if toolName == "" {
			continue
		}
		ts := stats.ByTool[toolName]
		switch audit.EventType(eventType) {
		case audit.EventToolCallProposed:
			ts.Calls++
		case audit.EventToolExecuted:
			ts.Executed++
		case audit.EventToolBlocked:
			ts.Blocked++
		case audit.EventToolAccessDenied:
			ts.Denied++
		}
		stats.ByTool[toolName] = ts
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}

// Close releases the underlying database handle.
func (q *QueryIndex) Close() error {
	return q.db.Close()
}

var _ audit.QueryStore = (*QueryIndex)(nil)

// IndexingLogger wraps a FileLogger and a QueryIndex so every audit event
// lands in both the tamper-evident JSONL file and the queryable index. If
// indexing fails the JSONL write still succeeds; indexing errors are
// reported but never roll back the append-only log.
type IndexingLogger struct {
	file  *FileLogger
	index *QueryIndex
}

// NewIndexingLogger pairs an already-open FileLogger with a QueryIndex.
func NewIndexingLogger(file *FileLogger, index *QueryIndex) *IndexingLogger {
	return &IndexingLogger{file: file, index: index}
}

func (l *IndexingLogger) Log(ctx context.Context, eventType audit.EventType, fields audit.Record) error {
	rec := l.file.stamp(eventType, fields)
	if err := l.file.LogRecord(ctx, rec); err != nil {
		return err
	}
	return l.index.Index(ctx, rec)
}

func (l *IndexingLogger) Close(ctx context.Context) error {
	closeErr := l.file.Close(ctx)
	indexErr := l.index.Close()
	if closeErr != nil {
		return closeErr
	}
	return indexErr
}

var _ audit.Logger = (*IndexingLogger)(nil)
