// Package service builds runnable agents from a loaded config.File and
// coordinates delegation between agents sharing one audit session, the
// way the teacher's AgentRegistry and UpstreamManager each own and
// lifecycle-manage one class of resource on behalf of the rest of the
// system.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aegisrun/aegis/internal/builtin"
	"github.com/aegisrun/aegis/internal/config"
	"github.com/aegisrun/aegis/internal/domain/agent"
	"github.com/aegisrun/aegis/internal/domain/audit"
	"github.com/aegisrun/aegis/internal/domain/mcpconn"
	"github.com/aegisrun/aegis/internal/domain/pathguard"
	"github.com/aegisrun/aegis/internal/domain/provider"
	"github.com/aegisrun/aegis/internal/domain/secret"
	"github.com/aegisrun/aegis/internal/domain/tool"
	"github.com/aegisrun/aegis/internal/domain/validate"
	"github.com/aegisrun/aegis/internal/domain/verify"
)

// ProviderFactory builds the provider.Provider a given agent's
// provider.type config names. Kept as an injected function so tests
// substitute a fixture provider without real credentials.
type ProviderFactory func(ctx context.Context, cfg agent.ProviderConfig) (provider.Provider, error)

// ErrAgentNotFound is returned by BuildAgent/RunAgent for an unknown
// agent name.
var ErrAgentNotFound = fmt.Errorf("service: agent not found")

// ErrDelegationNotAllowed is returned when an agent's delegate_to_agent
// tool is called with a child name outside its handoff.can_delegate_to
// list, even though the loop would otherwise dispatch it.
var ErrDelegationNotAllowed = fmt.Errorf("service: agent is not permitted to delegate to that target")

// builtAgent is one build's worth of runnable state: the loop plus every
// MCP server connection it opened, which must be closed when that one
// build's run ends — never held past it.
type builtAgent struct {
	loop    *agent.Loop
	servers []mcpconn.Server
}

// Orchestrator builds agents from cfg and runs them under one shared
// audit session, so a delegate_to_agent call issued by one agent's loop
// invokes another agent's loop under the same session_id rather than
// starting an unrelated session. It caches no runtime state across
// calls: every RunAgent/DelegateToAgent builds its agent fresh and tears
// its MCP connections down on return, matching the original
// orchestrator's per-call build/run/finally-shutdown pattern rather than
// holding a live agent for the process's lifetime.
type Orchestrator struct {
	cfg        *config.File
	logger     audit.Logger
	sessionID  string
	connector  mcpconn.Connector
	providerFn ProviderFactory
	prompt     verify.OperatorPrompt
	resolver   validate.Resolver
	scrubber   *secret.Scrubber
	metrics    *Metrics
	registry   *AgentRegistry
}

// NewOrchestrator builds an Orchestrator bound to one audit session.
// resolver is the DNS resolver web_fetch built-ins validate hostnames
// against (validate.NetResolver{} in production, a fixed stub in tests).
func NewOrchestrator(cfg *config.File, logger audit.Logger, sessionID string, connector mcpconn.Connector, providerFn ProviderFactory, prompt verify.OperatorPrompt, resolver validate.Resolver, metrics *Metrics) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		logger:     logger,
		sessionID:  sessionID,
		connector:  connector,
		providerFn: providerFn,
		prompt:     prompt,
		resolver:   resolver,
		scrubber:   secret.New(),
		metrics:    metrics,
		registry:   NewAgentRegistry(),
	}
}

// Agents returns the lifecycle status of every agent built so far.
func (o *Orchestrator) Agents() []AgentInfo { return o.registry.List() }

// BuildAgent constructs a fresh runnable Loop for the agent named name:
// a pathguard.Enforcer scoped to its allowed_paths, a tool.Registry
// populated with its requested built-ins and newly connected MCP
// servers, a delegate_to_agent tool if it may hand off to other agents,
// and the verification gate and provider its config names. Callers own
// the returned servers and must close them when the run ends — see
// RunAgent, which does this for every caller of this package.
func (o *Orchestrator) BuildAgent(ctx context.Context, name string) (*agent.Loop, []mcpconn.Server, error) {
	cfg, ok := o.cfg.AgentByName(name)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrAgentNotFound, name)
	}

	o.registry.Register(AgentInfo{Name: name, Status: StatusBuilding, BuiltAt: time.Now()})

	built, err := o.assemble(ctx, cfg)
	if err != nil {
		o.registry.SetStatus(name, StatusFailed)
		return nil, nil, err
	}

	o.registry.SetStatus(name, StatusReady)
	if o.metrics != nil {
		o.metrics.AgentsBuilt.Inc()
	}
	return built.loop, built.servers, nil
}

func (o *Orchestrator) assemble(ctx context.Context, cfg agent.Config) (*builtAgent, error) {
	protectedDirs := []string{o.cfg.Runtime.AuditDir}
	if cfg.Audit.LogDir != "" {
		protectedDirs = append(protectedDirs, cfg.Audit.LogDir)
	}
	enforcer, err := pathguard.New(cfg.AllowedPaths, protectedDirs, true)
	if err != nil {
		return nil, fmt.Errorf("service: building %q's path guard: %w", cfg.Name, err)
	}

	registry := tool.New(o.sessionID, o.logger)
	if err := o.wireBuiltins(registry, enforcer, cfg); err != nil {
		return nil, err
	}

	servers, err := o.wireMCPServers(ctx, registry, cfg)
	if err != nil {
		return nil, err
	}

	if len(cfg.Handoff.CanDelegateTo) > 0 {
		registry.AddTool(o.delegateTool(cfg))
	}

	gate, err := verify.New(cfg.Verification.Mode, cfg.Verification.RequireFor, o.sessionID, cfg.Name, o.logger, o.prompt)
	if err != nil {
		return nil, fmt.Errorf("service: building %q's verification gate: %w", cfg.Name, err)
	}

	prov, err := o.providerFn(ctx, cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("service: building %q's provider: %w", cfg.Name, err)
	}

	toolSpecs := toProviderSpecs(registry.Schemas())
	loop := agent.NewLoop(cfg, prov, registry, toolSpecs, gate, o.logger, o.sessionID)
	return &builtAgent{loop: loop, servers: servers}, nil
}

func (o *Orchestrator) wireBuiltins(registry *tool.Registry, enforcer *pathguard.Enforcer, cfg agent.Config) error {
	for _, name := range cfg.Tools.Builtin {
		var t tool.Tool
		switch name {
		case "read_file":
			t = builtin.ReadFile(enforcer)
		case "write_file":
			t = builtin.WriteFile(enforcer)
		case "list_dir":
			defaultRoot := ""
			if len(cfg.AllowedPaths) > 0 {
				defaultRoot = cfg.AllowedPaths[0]
			}
			t = builtin.ListDir(enforcer, defaultRoot)
		case "bash":
			t = builtin.Bash()
		case "web_fetch":
			t = builtin.WebFetch(o.resolver, validate.NewPinnedResolver(), uuid.NewString())
		default:
			return fmt.Errorf("%w: %q", tool.ErrUnknownBuiltin, name)
		}
		if err := registry.AddBuiltin(name, enforcer, t); err != nil {
			return fmt.Errorf("service: wiring %q's built-in %q: %w", cfg.Name, name, err)
		}
	}
	return nil
}

func (o *Orchestrator) wireMCPServers(ctx context.Context, registry *tool.Registry, cfg agent.Config) ([]mcpconn.Server, error) {
	if len(cfg.Tools.MCP) == 0 {
		return nil, nil
	}
	servers := make([]mcpconn.Server, 0, len(cfg.Tools.MCP))
	for _, spec := range cfg.Tools.MCP {
		server, err := o.connector.Connect(ctx, spec)
		if err != nil {
			return servers, fmt.Errorf("service: connecting %q's MCP server %q: %w", cfg.Name, spec.Name, err)
		}
		servers = append(servers, server)
		for _, t := range mcpconn.AsTools(server) {
			registry.AddMCPTool(t)
		}
	}
	return servers, nil
}

// delegateTool builds the delegate_to_agent tool for cfg, closed over the
// set of child agents cfg.Handoff permits.
func (o *Orchestrator) delegateTool(cfg agent.Config) tool.Tool {
	allowed := make(map[string]bool, len(cfg.Handoff.CanDelegateTo))
	for _, name := range cfg.Handoff.CanDelegateTo {
		allowed[name] = true
	}
	schema := tool.Schema{
		Name:        "delegate_to_agent",
		Description: "Hand off a task to another agent and return its final response.",
		InputSchema: validate.Schema{
			Type:     "object",
			Required: []string{"agent_name", "task"},
			Properties: map[string]validate.Schema{
				"agent_name": {Type: "string", Enum: namesToAny(cfg.Handoff.CanDelegateTo)},
				"task":       {Type: "string"},
			},
		},
	}
	return tool.NewFunc(schema, func(ctx context.Context, args map[string]any) (string, error) {
		childName, ok := args["agent_name"].(string)
		if !ok {
			return "", &tool.TypeError{ToolName: "delegate_to_agent", Reason: "argument \"agent_name\" must be a string"}
		}
		task, ok := args["task"].(string)
		if !ok {
			return "", &tool.TypeError{ToolName: "delegate_to_agent", Reason: "argument \"task\" must be a string"}
		}
		if !allowed[childName] {
			return "", fmt.Errorf("%w: %q may not delegate to %q", ErrDelegationNotAllowed, cfg.Name, childName)
		}
		return o.DelegateToAgent(ctx, cfg.Name, childName, task)
	})
}

// DelegateToAgent logs an AGENT_HANDOFF event for the parent-to-child
// transfer, then builds (if needed) and runs the child agent under the
// same audit session, returning its final text response.
func (o *Orchestrator) DelegateToAgent(ctx context.Context, parentName, childName, task string) (string, error) {
	if o.logger != nil {
		if err := o.logger.Log(ctx, audit.EventAgentHandoff, audit.Record{
			SessionID:   o.sessionID,
			AgentName:   parentName,
			Outcome:     "delegating_to:" + childName,
			TaskSummary: o.scrubTruncate(task, 300),
		}); err != nil {
			return "", fmt.Errorf("service: handoff audit failure from %q to %q: %w", parentName, childName, err)
		}
	}
	if o.metrics != nil {
		o.metrics.DelegationsTotal.WithLabelValues(parentName, childName).Inc()
	}
	return o.RunAgent(ctx, childName, task, "")
}

// RunAgent builds the named agent fresh, runs task to completion, and
// tears down every MCP server that build opened before returning —
// mirroring the original orchestrator's build_agent()/finally:
// mcp_manager.shutdown() pairing on every single run_task and
// delegate_to_agent call rather than keeping a built agent alive for
// reuse. A sub-agent delegated to twice in one session is built and torn
// down twice, never cached.
func (o *Orchestrator) RunAgent(ctx context.Context, name, task, taskContext string) (string, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "agent.run",
		trace.WithAttributes(attribute.String("aegis.agent_name", name), attribute.String("aegis.session_id", o.sessionID)))
	defer span.End()

	loop, servers, err := o.BuildAgent(ctx, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	defer func() {
		for _, server := range servers {
			_ = server.Close(ctx)
		}
	}()

	o.registry.SetStatus(name, StatusRunning)
	start := time.Now()
	out, err := loop.Run(ctx, task, taskContext)
	duration := time.Since(start)

	outcome := "completed"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if o.metrics != nil {
		o.metrics.AgentRunsTotal.WithLabelValues(name, outcome).Inc()
		o.metrics.RunDuration.WithLabelValues(name).Observe(duration.Seconds())
	}
	o.registry.SetStatus(name, StatusDone)
	return out, err
}

func (o *Orchestrator) scrubTruncate(s string, n int) string {
	if len(s) > n {
		s = s[:n]
	}
	scrubbed := o.scrubber.SanitizeValue(s)
	if str, ok := scrubbed.(string); ok {
		return str
	}
	return s
}

func toProviderSpecs(schemas []tool.Schema) []provider.ToolSpec {
	specs := make([]provider.ToolSpec, 0, len(schemas))
	for _, s := range schemas {
		specs = append(specs, provider.ToolSpec{
			Name:        s.Name,
			Description: s.Description,
			InputSchema: schemaToMap(s.InputSchema),
		})
	}
	return specs
}

// schemaToMap translates a validate.Schema into the plain-map form
// provider.ToolSpec carries, so each provider translates it into its own
// native function-declaration shape.
func schemaToMap(s validate.Schema) map[string]any {
	m := map[string]any{"type": s.Type}
	if len(s.Required) > 0 {
		m["required"] = s.Required
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, prop := range s.Properties {
			props[name] = schemaToMap(prop)
		}
		m["properties"] = props
	}
	if len(s.Enum) > 0 {
		m["enum"] = s.Enum
	}
	return m
}

func namesToAny(names []string) []any {
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}
