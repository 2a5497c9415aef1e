package audit

import (
	"context"
	"time"
)

// Logger is the domain-owned port every security component writes audit
// events through. Implementations must be safe for concurrent use and must
// never swallow write failures (AU-12): Log returns the error instead.
type Logger interface {
	// Log builds a Record from eventType plus the mandatory session fields,
	// merges ctx's non-zero fields, appends it, and returns any write error.
	Log(ctx context.Context, eventType EventType, fields Record) error

	// Close writes a SESSION_END record and releases the underlying file.
	Close(ctx context.Context) error
}

// QueryStore provides read access for operators inspecting past sessions.
// Separate from Logger because queries run against an index (SQLite),
// never against the append-only JSONL file itself.
type QueryStore interface {
	Query(ctx context.Context, filter Filter) ([]Record, error)
	Stats(ctx context.Context, start, end time.Time) (*Stats, error)
}

// Filter narrows a Query call.
type Filter struct {
	SessionID string
	ToolName  string
	EventType EventType
	Start     time.Time
	End       time.Time
	Limit     int
}

// ToolStats aggregates per-tool counters for Stats.ByTool.
type ToolStats struct {
	Calls    int64
	Executed int64
	Blocked  int64
	Denied   int64
}

// Stats is an aggregate over a time range, grounded on the shape of
// cmd/sentinel-gate/cmd/audit_stats.go's AuditStats/ComplianceStats output
// but trimmed to what a single-session runtime can meaningfully report.
type Stats struct {
	TotalEvents int64
	ByTool      map[string]ToolStats
	ByEventType map[EventType]int64
}
