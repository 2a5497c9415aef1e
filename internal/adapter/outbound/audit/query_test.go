package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aegisrun/aegis/internal/domain/audit"
)

func TestQueryIndexFiltersBySessionAndTool(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenQueryIndex(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("OpenQueryIndex: %v", err)
	}
	defer func() { _ = idx.Close() }()

	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	records := []audit.Record{
		{EventID: "e1", SessionID: "s1", EventType: audit.EventToolExecuted, ToolName: "bash", TimestampUTC: now},
		{EventID: "e2", SessionID: "s1", EventType: audit.EventToolExecuted, ToolName: "read_file", TimestampUTC: now.Add(time.Minute)},
		{EventID: "e3", SessionID: "s2", EventType: audit.EventToolExecuted, ToolName: "bash", TimestampUTC: now.Add(2 * time.Minute)},
	}
	for _, rec := range records {
		if err := idx.Index(ctx, rec); err != nil {
			t.Fatalf("Index(%s): %v", rec.EventID, err)
		}
	}

	results, err := idx.Query(ctx, audit.Filter{SessionID: "s1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}

	results, err = idx.Query(ctx, audit.Filter{ToolName: "bash"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}

	results, err = idx.Query(ctx, audit.Filter{SessionID: "s1", ToolName: "bash"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if results[0].EventID != "e1" {
		t.Errorf("EventID = %q, want %q", results[0].EventID, "e1")
	}
}

func TestQueryIndexStatsAggregatesByToolAndEventType(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenQueryIndex(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("OpenQueryIndex: %v", err)
	}
	defer func() { _ = idx.Close() }()

	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	mid := start.Add(time.Hour)

	records := []audit.Record{
		{EventID: "a", EventType: audit.EventToolCallProposed, ToolName: "bash", TimestampUTC: mid},
		{EventID: "b", EventType: audit.EventToolExecuted, ToolName: "bash", TimestampUTC: mid},
		{EventID: "c", EventType: audit.EventToolBlocked, ToolName: "write_file", TimestampUTC: mid},
	}
	for _, rec := range records {
		if err := idx.Index(ctx, rec); err != nil {
			t.Fatalf("Index(%s): %v", rec.EventID, err)
		}
	}

	stats, err := idx.Stats(ctx, start, end)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalEvents != 3 {
		t.Errorf("TotalEvents = %d, want 3", stats.TotalEvents)
	}
	if stats.ByTool["bash"].Calls != 1 {
		t.Errorf("ByTool[bash].Calls = %d, want 1", stats.ByTool["bash"].Calls)
	}
	if stats.ByTool["bash"].Executed != 1 {
		t.Errorf("ByTool[bash].Executed = %d, want 1", stats.ByTool["bash"].Executed)
	}
	if stats.ByTool["write_file"].Blocked != 1 {
		t.Errorf("ByTool[write_file].Blocked = %d, want 1", stats.ByTool["write_file"].Blocked)
	}
	if stats.ByEventType[audit.EventToolCallProposed] != 1 {
		t.Errorf("ByEventType[proposed] = %d, want 1", stats.ByEventType[audit.EventToolCallProposed])
	}
}

func TestIndexingLoggerWritesSameRecordToFileAndIndex(t *testing.T) {
	dir := t.TempDir()
	fileLogger, err := NewFileLogger(filepath.Join(dir, "logs"), "sess-idx", "erin")
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}

	idx, err := OpenQueryIndex(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("OpenQueryIndex: %v", err)
	}

	composite := NewIndexingLogger(fileLogger, idx)
	ctx := context.Background()
	if err := composite.Log(ctx, audit.EventToolExecuted, audit.Record{ToolName: "bash"}); err != nil {
		t.Fatalf("Log: %v", err)
	}

	results, err := idx.Query(ctx, audit.Filter{SessionID: "sess-idx", ToolName: "bash"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if results[0].EventID == "" {
		t.Error("expected a non-empty EventID")
	}
	if results[0].SessionID != "sess-idx" {
		t.Errorf("SessionID = %q, want %q", results[0].SessionID, "sess-idx")
	}

	if err := composite.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
