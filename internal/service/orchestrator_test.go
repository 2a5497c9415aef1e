package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"go.uber.org/goleak"

	"github.com/aegisrun/aegis/internal/config"
	"github.com/aegisrun/aegis/internal/domain/agent"
	"github.com/aegisrun/aegis/internal/domain/audit"
	"github.com/aegisrun/aegis/internal/domain/mcpconn"
	"github.com/aegisrun/aegis/internal/domain/provider"
	"github.com/aegisrun/aegis/internal/domain/provider/fixture"
	"github.com/aegisrun/aegis/internal/domain/verify"
)

type recordingLogger struct {
	records []audit.Record
	events  []audit.EventType
}

func (l *recordingLogger) Log(_ context.Context, eventType audit.EventType, rec audit.Record) error {
	l.events = append(l.events, eventType)
	l.records = append(l.records, rec)
	return nil
}

func (l *recordingLogger) Close(context.Context) error { return nil }

func eventsContain(events []audit.EventType, want audit.EventType) bool {
	for _, e := range events {
		if e == want {
			return true
		}
	}
	return false
}

func twoAgentConfig() *config.File {
	parent := agent.Config{
		Name:         "parent",
		Model:        "parent-model",
		MaxTurns:     5,
		Verification: agent.VerificationConfig{Mode: verify.ModeNever},
		Handoff:      agent.HandoffConfig{CanDelegateTo: []string{"child"}},
		Provider:     agent.ProviderConfig{Type: "fixture", Options: map[string]any{"owner": "parent"}},
	}
	child := agent.Config{
		Name:         "child",
		Model:        "child-model",
		MaxTurns:     5,
		Verification: agent.VerificationConfig{Mode: verify.ModeNever},
		Provider:     agent.ProviderConfig{Type: "fixture", Options: map[string]any{"owner": "child"}},
	}
	return &config.File{
		Runtime: config.RuntimeConfig{AuditDir: "./audit-logs"},
		Agents:  []agent.Config{parent, child},
	}
}

func providerFactory(providers map[string]*fixture.Provider) ProviderFactory {
	return func(_ context.Context, cfg agent.ProviderConfig) (provider.Provider, error) {
		owner, _ := cfg.Options["owner"].(string)
		return providers[owner], nil
	}
}

// fakeMCPServer tracks how many times Close is called, so tests can assert
// the orchestrator tears down every server it opens on each run.
type fakeMCPServer struct {
	name   string
	closed atomic.Int32
}

func (s *fakeMCPServer) Name() string                 { return s.name }
func (s *fakeMCPServer) Tools() []mcpconn.ToolInfo     { return nil }
func (s *fakeMCPServer) Close(context.Context) error   { s.closed.Add(1); return nil }
func (s *fakeMCPServer) CallTool(context.Context, string, map[string]any) (string, error) {
	return "", nil
}

// countingConnector hands out a fresh fakeMCPServer on every Connect call
// and records every server it has ever produced.
type countingConnector struct {
	connects int
	servers  []*fakeMCPServer
}

func (c *countingConnector) Connect(context.Context, mcpconn.ServerSpec) (mcpconn.Server, error) {
	c.connects++
	s := &fakeMCPServer{name: "mcp-server"}
	c.servers = append(c.servers, s)
	return s, nil
}

func TestBuildAgentBuildsFreshLoopOnEachCall(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := twoAgentConfig()
	providers := map[string]*fixture.Provider{
		"parent": fixture.New(provider.Response{StopReason: provider.StopEndTurn, Content: []provider.Block{provider.Text("done")}}),
	}
	o := NewOrchestrator(cfg, nil, "sess-1", nil, providerFactory(providers), nil, nil, nil)

	first, _, err := o.BuildAgent(context.Background(), "parent")
	if err != nil {
		t.Fatalf("BuildAgent returned error: %v", err)
	}
	second, _, err := o.BuildAgent(context.Background(), "parent")
	if err != nil {
		t.Fatalf("BuildAgent returned error: %v", err)
	}
	if first == second {
		t.Error("expected two distinct Loop instances, got the same one (caching was removed)")
	}

	infos := o.Agents()
	if len(infos) != 1 {
		t.Fatalf("len(infos) = %d, want 1", len(infos))
	}
	if infos[0].Status != StatusReady {
		t.Errorf("status = %v, want %v", infos[0].Status, StatusReady)
	}
}

func TestBuildAgentRejectsUnknownName(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := twoAgentConfig()
	o := NewOrchestrator(cfg, nil, "sess-1", nil, providerFactory(nil), nil, nil, nil)
	_, _, err := o.BuildAgent(context.Background(), "nonexistent")
	if !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("err = %v, want to wrap %v", err, ErrAgentNotFound)
	}
}

func TestRunAgentClosesMCPServersOpenedForThatRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := twoAgentConfig()
	cfg.Agents[0].Tools.MCP = []mcpconn.ServerSpec{{Name: "srv", Command: "true"}}
	providers := map[string]*fixture.Provider{
		"parent": fixture.New(provider.Response{StopReason: provider.StopEndTurn, Content: []provider.Block{provider.Text("done")}}),
	}
	connector := &countingConnector{}
	o := NewOrchestrator(cfg, nil, "sess-1", connector, providerFactory(providers), nil, nil, nil)

	if _, err := o.RunAgent(context.Background(), "parent", "task", ""); err != nil {
		t.Fatalf("RunAgent returned error: %v", err)
	}
	if connector.connects != 1 {
		t.Fatalf("connects = %d, want 1", connector.connects)
	}
	if connector.servers[0].closed.Load() != 1 {
		t.Errorf("server closed %d times, want 1", connector.servers[0].closed.Load())
	}

	// A second run builds and tears down a second, independent connection.
	if _, err := o.RunAgent(context.Background(), "parent", "task again", ""); err != nil {
		t.Fatalf("RunAgent returned error: %v", err)
	}
	if connector.connects != 2 {
		t.Fatalf("connects = %d, want 2 (each run must build fresh)", connector.connects)
	}
}

func TestRunAgentDelegatesToChildUnderSameSession(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := twoAgentConfig()
	providers := map[string]*fixture.Provider{
		"parent": fixture.New(
			provider.Response{StopReason: provider.StopToolUse, Content: []provider.Block{{
				Type:      provider.BlockToolUse,
				ToolUseID: "call-1",
				ToolName:  "delegate_to_agent",
				ToolInput: map[string]any{"agent_name": "child", "task": "look into it"},
			}}},
			provider.Response{StopReason: provider.StopEndTurn, Content: []provider.Block{provider.Text("parent done")}},
		),
		"child": fixture.New(
			provider.Response{StopReason: provider.StopEndTurn, Content: []provider.Block{provider.Text("child done")}},
		),
	}
	logger := &recordingLogger{}
	o := NewOrchestrator(cfg, logger, "sess-1", nil, providerFactory(providers), nil, nil, nil)

	out, err := o.RunAgent(context.Background(), "parent", "investigate the incident", "")
	if err != nil {
		t.Fatalf("RunAgent returned error: %v", err)
	}
	if out != "parent done" {
		t.Errorf("out = %q, want %q", out, "parent done")
	}

	if !eventsContain(logger.events, audit.EventAgentHandoff) {
		t.Fatal("expected an AGENT_HANDOFF event")
	}
	for i, evt := range logger.events {
		if evt == audit.EventAgentHandoff {
			if logger.records[i].AgentName != "parent" {
				t.Errorf("handoff AgentName = %q, want %q", logger.records[i].AgentName, "parent")
			}
			if logger.records[i].Outcome != "delegating_to:child" {
				t.Errorf("handoff Outcome = %q, want %q", logger.records[i].Outcome, "delegating_to:child")
			}
		}
	}

	childInfo, ok := o.registry.Get("child")
	if !ok {
		t.Fatal("expected child to be tracked in the registry")
	}
	if childInfo.Status != StatusDone {
		t.Errorf("child status = %v, want %v (a completed run is not cached for reuse)", childInfo.Status, StatusDone)
	}
}

func TestDelegateToAgentRejectsTargetOutsideHandoffList(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := twoAgentConfig()
	cfg.Agents[0].Handoff.CanDelegateTo = []string{"other"}
	providers := map[string]*fixture.Provider{
		"parent": fixture.New(
			provider.Response{StopReason: provider.StopToolUse, Content: []provider.Block{{
				Type:      provider.BlockToolUse,
				ToolUseID: "call-1",
				ToolName:  "delegate_to_agent",
				ToolInput: map[string]any{"agent_name": "child", "task": "look into it"},
			}}},
			provider.Response{StopReason: provider.StopEndTurn, Content: []provider.Block{provider.Text("parent handled the refusal")}},
		),
	}
	o := NewOrchestrator(cfg, nil, "sess-1", nil, providerFactory(providers), nil, nil, nil)

	out, err := o.RunAgent(context.Background(), "parent", "investigate", "")
	if err != nil {
		t.Fatalf("RunAgent returned error: %v", err)
	}
	if out != "parent handled the refusal" {
		t.Errorf("out = %q, want %q", out, "parent handled the refusal")
	}
}

func TestDelegateToAgentBuildsChildFreshOnEveryDelegation(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := twoAgentConfig()
	cfg.Agents[0].Tools.MCP = nil
	cfg.Agents[1].Tools.MCP = []mcpconn.ServerSpec{{Name: "child-srv", Command: "true"}}
	providers := map[string]*fixture.Provider{
		"parent": fixture.New(
			provider.Response{StopReason: provider.StopToolUse, Content: []provider.Block{{
				Type: provider.BlockToolUse, ToolUseID: "call-1", ToolName: "delegate_to_agent",
				ToolInput: map[string]any{"agent_name": "child", "task": "first"},
			}}},
			provider.Response{StopReason: provider.StopToolUse, Content: []provider.Block{{
				Type: provider.BlockToolUse, ToolUseID: "call-2", ToolName: "delegate_to_agent",
				ToolInput: map[string]any{"agent_name": "child", "task": "second"},
			}}},
			provider.Response{StopReason: provider.StopEndTurn, Content: []provider.Block{provider.Text("parent done")}},
		),
		"child": fixture.New(
			provider.Response{StopReason: provider.StopEndTurn, Content: []provider.Block{provider.Text("child done 1")}},
			provider.Response{StopReason: provider.StopEndTurn, Content: []provider.Block{provider.Text("child done 2")}},
		),
	}
	connector := &countingConnector{}
	o := NewOrchestrator(cfg, nil, "sess-1", connector, providerFactory(providers), nil, nil, nil)

	if _, err := o.RunAgent(context.Background(), "parent", "investigate", ""); err != nil {
		t.Fatalf("RunAgent returned error: %v", err)
	}

	if connector.connects != 2 {
		t.Fatalf("connects = %d, want 2 (child delegated to twice must build+connect twice)", connector.connects)
	}
	for i, s := range connector.servers {
		if s.closed.Load() != 1 {
			t.Errorf("server %d closed %d times, want 1", i, s.closed.Load())
		}
	}
}
