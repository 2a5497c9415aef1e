package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/aegisrun/aegis/internal/domain/audit"
	"github.com/aegisrun/aegis/internal/domain/provider"
	"github.com/aegisrun/aegis/internal/domain/secret"
	"github.com/aegisrun/aegis/internal/domain/validate"
	"github.com/aegisrun/aegis/internal/domain/verify"
)

// ToolDispatcher resolves a tool_use block to its execution, regardless of
// whether the tool is a built-in, an injected delegation tool, or
// MCP-owned. The loop depends only on this contract.
type ToolDispatcher interface {
	// Call executes name and reports whether it actually ran (false for
	// any blocked/denied/not-found outcome, matching tool.Registry.Call).
	// err is non-nil only when the audit event the outcome required
	// failed to write, and must abort the run rather than be swallowed.
	Call(ctx context.Context, name string, args map[string]any) (result string, executed bool, err error)
	// Schema returns the declared input schema for name, if known, so the
	// gate can re-validate edited arguments.
	Schema(name string) (*validate.Schema, bool)
	// IsMCPTool reports whether name is owned by an MCP server rather than
	// a built-in or delegation tool.
	IsMCPTool(name string) bool
}

// Loop runs one agent's turn-based conversation with its provider.
type Loop struct {
	cfg       Config
	prov      provider.Provider
	tools     ToolDispatcher
	toolSpecs []provider.ToolSpec
	gate      *verify.Gate
	logger    audit.Logger
	scrubber  *secret.Scrubber
	sessionID string
}

// NewLoop builds a Loop for one agent run.
func NewLoop(cfg Config, prov provider.Provider, tools ToolDispatcher, toolSpecs []provider.ToolSpec, gate *verify.Gate, logger audit.Logger, sessionID string) *Loop {
	return &Loop{
		cfg:       cfg,
		prov:      prov,
		tools:     tools,
		toolSpecs: toolSpecs,
		gate:      gate,
		logger:    logger,
		scrubber:  secret.New(),
		sessionID: sessionID,
	}
}

// Run executes the turn loop for task (with optional context) and returns
// the model's final text response.
func (l *Loop) Run(ctx context.Context, task, taskContext string) (final string, err error) {
	if logErr := l.logEvent(ctx, audit.EventAgentTaskStart, audit.Record{
		Model:       l.cfg.Model,
		TaskSummary: l.scrubTruncate(task, 300),
	}); logErr != nil {
		return "", logErr
	}

	turnsUsed := 0
	outcome := audit.OutcomeCompleted

	defer func() {
		if logErr := l.logEvent(ctx, audit.EventAgentTaskEnd, audit.Record{
			Model:     l.cfg.Model,
			TurnsUsed: turnsUsed,
			Outcome:   outcome,
		}); logErr != nil && err == nil {
			err = logErr
		}
	}()

	initial := task
	if taskContext != "" {
		initial = fmt.Sprintf("Context:\n%s\n\nTask:\n%s", taskContext, task)
	}
	messages := []provider.Message{{Role: provider.RoleUser, Content: []provider.Block{provider.Text(initial)}}}

	for turn := 1; turn <= l.cfg.MaxTurns; turn++ {
		turnsUsed = turn

		resp, respErr := l.prov.CreateMessage(ctx, l.cfg.Model, l.cfg.SystemPrompt, messages, l.toolSpecs, 4096)
		if respErr != nil {
			return "", respErr
		}
		messages = append(messages, provider.Message{Role: provider.RoleAssistant, Content: resp.Content})

		switch resp.StopReason {
		case provider.StopEndTurn:
			return concatText(resp.Content), nil

		case provider.StopToolUse:
			var results []provider.Block
			for _, block := range resp.Content {
				if block.Type != provider.BlockToolUse {
					continue
				}
				result, dispatchErr := l.dispatch(ctx, block)
				if dispatchErr != nil {
					return "", dispatchErr
				}
				results = append(results, result)
			}
			messages = append(messages, provider.Message{Role: provider.RoleUser, Content: results})

		default:
			outcome = audit.OutcomeCompleted
			return concatText(resp.Content), nil
		}
	}

	outcome = audit.OutcomeMaxTurns
	return "", fmt.Errorf("agent %q: exceeded max_turns (%d)", l.cfg.Name, l.cfg.MaxTurns)
}

// dispatch verifies and executes one tool_use block. Its returned error is
// never a tool-level outcome (those are always encoded in the returned
// Block so the model can see them) — it is non-nil only when an audit
// write failed, which must abort Run rather than be swallowed (AU-12).
func (l *Loop) dispatch(ctx context.Context, b provider.Block) (provider.Block, error) {
	schema, _ := l.tools.Schema(b.ToolName)
	isMCP := l.tools.IsMCPTool(b.ToolName)

	verdict, err := l.gate.Prompt(ctx, b.ToolName, b.ToolInput, schema, isMCP)
	if err != nil {
		return provider.Block{}, fmt.Errorf("agent %q: verification audit failure: %w", l.cfg.Name, err)
	}
	if !verdict.Approved {
		return provider.ToolResult(b.ToolUseID, "User denied this tool call.", true), nil
	}

	out, executed, err := l.tools.Call(ctx, b.ToolName, verdict.Input)
	if err != nil {
		return provider.Block{}, fmt.Errorf("agent %q: tool audit failure: %w", l.cfg.Name, err)
	}
	if executed {
		if logErr := l.logEvent(ctx, audit.EventToolExecuted, audit.Record{
			ToolName:      b.ToolName,
			ToolInput:     l.scrubber.SanitizeRecord(verdict.Input),
			Outcome:       audit.OutcomeSuccess,
			ResultSummary: l.scrubTruncate(out, 500),
		}); logErr != nil {
			return provider.Block{}, fmt.Errorf("agent %q: tool-executed audit failure: %w", l.cfg.Name, logErr)
		}
	}
	return provider.ToolResult(b.ToolUseID, out, !executed), nil
}

func (l *Loop) scrubTruncate(s string, n int) string {
	if len(s) > n {
		s = s[:n]
	}
	scrubbed := l.scrubber.SanitizeValue(s)
	if str, ok := scrubbed.(string); ok {
		return str
	}
	return s
}

func (l *Loop) logEvent(ctx context.Context, eventType audit.EventType, rec audit.Record) error {
	if l.logger == nil {
		return nil
	}
	rec.SessionID = l.sessionID
	rec.AgentName = l.cfg.Name
	return l.logger.Log(ctx, eventType, rec)
}

func concatText(blocks []provider.Block) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == provider.BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}
