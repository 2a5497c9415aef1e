package tool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aegisrun/aegis/internal/domain/audit"
	"github.com/aegisrun/aegis/internal/domain/pathguard"
	"github.com/aegisrun/aegis/internal/domain/validate"
)

// KnownBuiltins is the static set of built-in tool names a Registry will
// accept during construction.
var KnownBuiltins = map[string]bool{
	"read_file": true, "write_file": true, "list_dir": true,
	"bash": true, "web_fetch": true,
}

// ErrUnknownBuiltin is returned when a requested built-in name is not in
// KnownBuiltins.
var ErrUnknownBuiltin = errors.New("tool: unknown built-in name")

// Registry holds a per-agent mapping of tool name to callable and the
// ordered list of schemas presented to the model. Each Registry is bound
// to exactly one agent's pathguard.Enforcer (AC-6 least privilege): two
// agents never share callables.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	order   []string
	mcp     map[string]bool
	session string
	logger  audit.Logger
}

// New constructs an empty Registry for one agent's session.
func New(sessionID string, logger audit.Logger) *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		mcp:     make(map[string]bool),
		session: sessionID,
		logger:  logger,
	}
}

// AddTool registers t under its own schema name, allowing injection of
// tools (such as delegate_to_agent) the orchestrator builds outside the
// static built-in set.
func (r *Registry) AddTool(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Schema().Name
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// AddBuiltin registers a built-in tool after checking name is in
// KnownBuiltins. enforcer is accepted only to document that built-in
// factories must have already closed over a pathguard.Enforcer before
// reaching this call.
func (r *Registry) AddBuiltin(name string, _ *pathguard.Enforcer, t Tool) error {
	if !KnownBuiltins[name] {
		return fmt.Errorf("%w: %q", ErrUnknownBuiltin, name)
	}
	r.AddTool(t)
	return nil
}

// AddMCPTool registers t and marks its name as MCP-owned, so the
// verification gate's high-risk-name heuristic runs against it regardless
// of the agent's verification mode.
func (r *Registry) AddMCPTool(t Tool) {
	r.AddTool(t)
	r.mu.Lock()
	r.mcp[t.Schema().Name] = true
	r.mu.Unlock()
}

// Schema returns the registered schema for name's input validation, if any.
func (r *Registry) Schema(name string) (*validate.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	schema := t.Schema().InputSchema
	return &schema, true
}

// IsMCPTool reports whether name was registered via AddMCPTool.
func (r *Registry) IsMCPTool(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mcp[name]
}

// Schemas returns every registered tool's schema, in registration order.
func (r *Registry) Schemas() []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Schema, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Schema())
	}
	return out
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Call invokes name with args. Its tool-level outcome (not-found, denied,
// blocked, raised an error) is always mapped to a user-visible string for
// the model's tool_result block and never surfaced as err; err is non-nil
// only when the audit event the outcome requires failed to write (AU-12),
// which must abort the session rather than be swallowed.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (result string, executed bool, err error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("Error calling tool '%s': tool not found", name), false, nil
	}

	out, callErr := t.Call(ctx, args)
	if callErr == nil {
		return out, true, nil
	}

	var accessDenied *pathguard.AccessDeniedError
	var validationErr *validate.ValidationError
	var blockedErr *validate.BlockedError
	var typeErr *TypeError

	switch {
	case errors.As(callErr, &accessDenied):
		if logErr := r.logEvent(ctx, audit.EventToolAccessDenied, name, callErr); logErr != nil {
			return "", false, logErr
		}
		return fmt.Sprintf("Access denied: %s", callErr.Error()), false, nil
	case errors.As(callErr, &validationErr), errors.As(callErr, &blockedErr):
		if logErr := r.logEvent(ctx, audit.EventToolBlocked, name, callErr); logErr != nil {
			return "", false, logErr
		}
		return fmt.Sprintf("Tool call blocked by security policy: %s", callErr.Error()), false, nil
	case errors.As(callErr, &typeErr):
		return fmt.Sprintf("Error calling tool '%s': %s", name, callErr.Error()), false, nil
	default:
		return fmt.Sprintf("Tool '%s' raised an error: %s", name, callErr.Error()), false, nil
	}
}

func (r *Registry) logEvent(ctx context.Context, eventType audit.EventType, toolName string, cause error) error {
	if r.logger == nil {
		return nil
	}
	return r.logger.Log(ctx, eventType, audit.Record{
		SessionID: r.session,
		ToolName:  toolName,
		Detail:    cause.Error(),
	})
}

// TypeError signals a tool call with a malformed or missing argument shape
// that is the caller's fault rather than a security policy violation.
type TypeError struct {
	ToolName string
	Reason   string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%s: %s", e.ToolName, e.Reason)
}
