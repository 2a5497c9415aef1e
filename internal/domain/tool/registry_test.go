package tool

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aegisrun/aegis/internal/domain/audit"
	"github.com/aegisrun/aegis/internal/domain/pathguard"
	"github.com/aegisrun/aegis/internal/domain/validate"
)

type recordingLogger struct {
	records []audit.Record
	events  []audit.EventType
	failOn  map[audit.EventType]error
}

func (l *recordingLogger) Log(_ context.Context, eventType audit.EventType, rec audit.Record) error {
	if err, ok := l.failOn[eventType]; ok {
		return err
	}
	l.events = append(l.events, eventType)
	l.records = append(l.records, rec)
	return nil
}

func (l *recordingLogger) Close(context.Context) error { return nil }

func newErrTool(name string, err error) Func {
	return NewFunc(Schema{Name: name}, func(context.Context, map[string]any) (string, error) {
		return "", err
	})
}

func TestRegistryCallSuccessReturnsExecutedTrue(t *testing.T) {
	r := New("sess-1", nil)
	r.AddTool(NewFunc(Schema{Name: "echo"}, func(_ context.Context, args map[string]any) (string, error) {
		return "ok", nil
	}))
	out, executed, err := r.Call(context.Background(), "echo", nil)
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}
	if !executed {
		t.Error("expected executed = true")
	}
	if out != "ok" {
		t.Errorf("out = %q, want %q", out, "ok")
	}
}

func TestRegistryCallUnknownTool(t *testing.T) {
	r := New("sess-1", nil)
	out, executed, err := r.Call(context.Background(), "nope", nil)
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}
	if executed {
		t.Error("expected executed = false")
	}
	if !strings.Contains(out, "tool not found") {
		t.Errorf("out = %q, want to contain %q", out, "tool not found")
	}
}

func TestRegistryCallAccessDeniedMapsToAuditEvent(t *testing.T) {
	logger := &recordingLogger{}
	r := New("sess-1", logger)
	r.AddTool(newErrTool("read_file", &pathguard.AccessDeniedError{Path: "/etc/shadow", Reason: "outside allowed roots"}))

	out, executed, err := r.Call(context.Background(), "read_file", nil)
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}
	if executed {
		t.Error("expected executed = false")
	}
	if !strings.Contains(out, "Access denied:") {
		t.Errorf("out = %q, want to contain %q", out, "Access denied:")
	}
	if len(logger.events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(logger.events))
	}
	if logger.events[0] != audit.EventToolAccessDenied {
		t.Errorf("event = %v, want %v", logger.events[0], audit.EventToolAccessDenied)
	}
}

func TestRegistryCallValidationErrorMapsToBlockedEvent(t *testing.T) {
	logger := &recordingLogger{}
	r := New("sess-1", logger)
	r.AddTool(newErrTool("bash", validate.NewValidationError("schema_violation", "bad args")))

	out, executed, err := r.Call(context.Background(), "bash", nil)
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}
	if executed {
		t.Error("expected executed = false")
	}
	if !strings.Contains(out, "Tool call blocked by security policy:") {
		t.Errorf("out = %q, want to contain blocked message", out)
	}
	if len(logger.events) != 1 || logger.events[0] != audit.EventToolBlocked {
		t.Errorf("events = %v, want [%v]", logger.events, audit.EventToolBlocked)
	}
}

func TestRegistryCallBlockedErrorMapsToBlockedEvent(t *testing.T) {
	logger := &recordingLogger{}
	r := New("sess-1", logger)
	r.AddTool(newErrTool("bash", &validate.BlockedError{Reason: "rm of a root-anchored path"}))

	out, executed, err := r.Call(context.Background(), "bash", nil)
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}
	if executed {
		t.Error("expected executed = false")
	}
	if !strings.Contains(out, "Tool call blocked by security policy:") {
		t.Errorf("out = %q, want to contain blocked message", out)
	}
	if len(logger.events) != 1 || logger.events[0] != audit.EventToolBlocked {
		t.Errorf("events = %v, want [%v]", logger.events, audit.EventToolBlocked)
	}
}

func TestRegistryCallTypeErrorHasNoAuditEvent(t *testing.T) {
	logger := &recordingLogger{}
	r := New("sess-1", logger)
	r.AddTool(newErrTool("write_file", &TypeError{ToolName: "write_file", Reason: "content must be a string"}))

	out, executed, err := r.Call(context.Background(), "write_file", nil)
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}
	if executed {
		t.Error("expected executed = false")
	}
	if !strings.Contains(out, "Error calling tool 'write_file':") {
		t.Errorf("out = %q, want to contain type-error message", out)
	}
	if len(logger.events) != 0 {
		t.Errorf("expected no audit events, got %v", logger.events)
	}
}

func TestRegistryCallOtherErrorHasNoAuditEvent(t *testing.T) {
	logger := &recordingLogger{}
	r := New("sess-1", logger)
	r.AddTool(newErrTool("web_fetch", errors.New("connection reset")))

	out, executed, err := r.Call(context.Background(), "web_fetch", nil)
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}
	if executed {
		t.Error("expected executed = false")
	}
	if !strings.Contains(out, "raised an error") {
		t.Errorf("out = %q, want to contain %q", out, "raised an error")
	}
	if len(logger.events) != 0 {
		t.Errorf("expected no audit events, got %v", logger.events)
	}
}

func TestRegistryCallPropagatesAuditFailureOnAccessDenied(t *testing.T) {
	logFailure := errors.New("disk full")
	logger := &recordingLogger{failOn: map[audit.EventType]error{audit.EventToolAccessDenied: logFailure}}
	r := New("sess-1", logger)
	r.AddTool(newErrTool("read_file", &pathguard.AccessDeniedError{Path: "/etc/shadow", Reason: "outside allowed roots"}))

	_, executed, err := r.Call(context.Background(), "read_file", nil)
	if executed {
		t.Error("expected executed = false")
	}
	if !errors.Is(err, logFailure) {
		t.Fatalf("err = %v, want to wrap %v", err, logFailure)
	}
}

func TestAddBuiltinRejectsUnknownName(t *testing.T) {
	r := New("sess-1", nil)
	err := r.AddBuiltin("delete_everything", nil, NewFunc(Schema{Name: "delete_everything"}, nil))
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, ErrUnknownBuiltin) {
		t.Errorf("err = %v, want to wrap %v", err, ErrUnknownBuiltin)
	}
}

func TestAddMCPToolMarksNameAsMCPOwned(t *testing.T) {
	r := New("sess-1", nil)
	r.AddTool(NewFunc(Schema{Name: "read_file"}, nil))
	r.AddMCPTool(NewFunc(Schema{Name: "jira_create_ticket"}, nil))

	if r.IsMCPTool("read_file") {
		t.Error("read_file should not be MCP-owned")
	}
	if !r.IsMCPTool("jira_create_ticket") {
		t.Error("jira_create_ticket should be MCP-owned")
	}
	if r.IsMCPTool("unregistered") {
		t.Error("unregistered should not be MCP-owned")
	}
}

func TestSchemaLooksUpInputSchemaByName(t *testing.T) {
	r := New("sess-1", nil)
	r.AddTool(NewFunc(Schema{Name: "write_file", InputSchema: validate.Schema{
		Type: "object", Required: []string{"path", "content"},
	}}, nil))

	schema, ok := r.Schema("write_file")
	if !ok {
		t.Fatal("expected write_file to be found")
	}
	if len(schema.Required) != 2 || schema.Required[0] != "path" || schema.Required[1] != "content" {
		t.Errorf("Required = %v, want [path content]", schema.Required)
	}

	if _, ok := r.Schema("nonexistent"); ok {
		t.Error("expected nonexistent to be absent")
	}
}

func TestSchemasPreservesRegistrationOrder(t *testing.T) {
	r := New("sess-1", nil)
	r.AddTool(NewFunc(Schema{Name: "b"}, nil))
	r.AddTool(NewFunc(Schema{Name: "a"}, nil))
	schemas := r.Schemas()
	if len(schemas) != 2 {
		t.Fatalf("len(schemas) = %d, want 2", len(schemas))
	}
	if schemas[0].Name != "b" || schemas[1].Name != "a" {
		t.Errorf("schemas = [%s %s], want [b a]", schemas[0].Name, schemas[1].Name)
	}
}

