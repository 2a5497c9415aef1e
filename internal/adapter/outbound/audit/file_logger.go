// Package audit provides file-based audit persistence: one append-only
// JSONL file per session, plus a SQLite-backed query index for operators
// inspecting past sessions.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aegisrun/aegis/internal/domain/audit"
)

// FileLogger appends audit.Record lines to one JSONL file per session,
// grounded on the rotation/locking pattern of a daily-rotated file store but
// scoped to a single session file rather than calendar-day rotation: each
// agent run owns exactly one audit file for its lifetime.
type FileLogger struct {
	mu        sync.Mutex
	file      *os.File
	sessionID string
	operator  string
	closed    bool
}

// NewFileLogger opens dir/audit_<session8>_<YYYYMMDD>.jsonl for append,
// creating dir and the file if needed, and writes the SESSION_START record.
func NewFileLogger(dir, sessionID, operator string) (*FileLogger, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("audit: create log dir: %w", err)
	}

	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	name := fmt.Sprintf("audit_%s_%s.jsonl", short, time.Now().UTC().Format("20060102"))

	f, err := os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open log file: %w", err)
	}

	l := &FileLogger{file: f, sessionID: sessionID, operator: operator}
	if err := l.Log(context.Background(), audit.EventSessionStart, audit.Record{}); err != nil {
		_ = f.Close()
		return nil, err
	}
	return l, nil
}

// Log stamps fields with a fresh event ID and UTC timestamp, fills in the
// session/operator fields if the caller left them zero, and appends the
// record. It never swallows a write failure (AU-12).
func (l *FileLogger) Log(_ context.Context, eventType audit.EventType, fields audit.Record) error {
	return l.append(l.stamp(eventType, fields))
}

// stamp fills in the fields a caller never sets directly: event ID,
// timestamp, event type, and session/operator defaults. Exposed so
// IndexingLogger can stamp once and write the identical record to both the
// JSONL file and the query index.
func (l *FileLogger) stamp(eventType audit.EventType, fields audit.Record) audit.Record {
	fields.EventID = uuid.NewString()
	fields.TimestampUTC = time.Now().UTC()
	fields.EventType = eventType
	if fields.SessionID == "" {
		fields.SessionID = l.sessionID
	}
	if fields.Operator == "" {
		fields.Operator = l.operator
	}
	return fields
}

// LogRecord appends an already-stamped record verbatim.
func (l *FileLogger) LogRecord(_ context.Context, rec audit.Record) error {
	return l.append(rec)
}

func (l *FileLogger) append(rec audit.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("audit: logger closed for session %q", l.sessionID)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: marshal record: %w", err)
	}
	data = append(data, '\n')

	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("audit: write record: %w", err)
	}
	return l.file.Sync()
}

// Close writes the SESSION_END record and releases the file. Subsequent
// Log calls return an error rather than writing to a closed file.
func (l *FileLogger) Close(ctx context.Context) error {
	if err := l.Log(ctx, audit.EventSessionEnd, audit.Record{}); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return l.file.Close()
}

var _ audit.Logger = (*FileLogger)(nil)
