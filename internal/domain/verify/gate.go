// Package verify implements the human verification gate every tool call
// passes through before dispatch, plus the CEL-backed matching that
// decides which tool calls require a human in the loop.
package verify

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/cel-go/cel"

	"github.com/aegisrun/aegis/internal/domain/audit"
	"github.com/aegisrun/aegis/internal/domain/secret"
	"github.com/aegisrun/aegis/internal/domain/validate"
)

// Mode is the agent's verification policy.
type Mode string

const (
	ModeAlways    Mode = "always"
	ModeSelective Mode = "selective"
	ModeNever     Mode = "never"
)

// HighRiskBuiltins is the set of built-in tool names CM-6 forbids pairing
// with Mode never.
var HighRiskBuiltins = map[string]bool{"bash": true, "write_file": true}

// highRiskName matches tool names whose shape suggests a destructive or
// system-level capability, used as the default heuristic rule run against
// every MCP-discovered tool regardless of require_for, so Mode never
// cannot silently wave through an MCP-owned bash/exec/write equivalent.
var highRiskName = regexp.MustCompile(`(?i)bash|exec|shell|write|delete|run`)

// OperatorPrompt abstracts the human side of the gate so tests can script
// responses without a real terminal.
type OperatorPrompt interface {
	// Prompt shows toolName/input to the operator and returns their choice
	// (y/n/e) plus, for e, the edited input they typed.
	Prompt(ctx context.Context, toolName string, input map[string]any) (choice string, edited map[string]any, err error)

	// Confirm shows the edited input back to the operator after a
	// successful re-validation and asks for a final y/n.
	Confirm(ctx context.Context, toolName string, edited map[string]any) (bool, error)
}

// Verdict is the gate's decision for one proposed tool call.
type Verdict struct {
	Approved bool
	Input    map[string]any
	Choice   string
}

// Gate is state-free across calls; every prompt() consults only its own
// arguments plus the agent's static mode/require_for configuration.
type Gate struct {
	mode       Mode
	requireFor []cel.Program
	logger     audit.Logger
	scrubber   *secret.Scrubber
	sessionID  string
	agentName  string
	prompt     OperatorPrompt
}

// New builds a Gate for one agent. requireFor entries are compiled as CEL
// boolean expressions over a `tool_name` string variable; a plain tool
// name (no CEL operators) is compiled as `tool_name == "<name>"`.
func New(mode Mode, requireFor []string, sessionID, agentName string, logger audit.Logger, prompt OperatorPrompt) (*Gate, error) {
	env, err := cel.NewEnv(cel.Variable("tool_name", cel.StringType))
	if err != nil {
		return nil, fmt.Errorf("verify: failed to build CEL environment: %w", err)
	}

	programs := make([]cel.Program, 0, len(requireFor))
	for _, pattern := range requireFor {
		expr := pattern
		if !looksLikeExpression(pattern) {
			expr = fmt.Sprintf("tool_name == %q", pattern)
		}
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("verify: invalid require_for rule %q: %w", pattern, issues.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("verify: failed to build program for %q: %w", pattern, err)
		}
		programs = append(programs, prg)
	}

	return &Gate{
		mode:       mode,
		requireFor: programs,
		logger:     logger,
		scrubber:   secret.New(),
		sessionID:  sessionID,
		agentName:  agentName,
		prompt:     prompt,
	}, nil
}

func looksLikeExpression(s string) bool {
	for _, r := range s {
		switch r {
		case '=', '!', '&', '|', '(', ')', '.', ' ':
			return true
		}
	}
	return false
}

func (g *Gate) matchesRequireFor(toolName string) bool {
	for _, prg := range g.requireFor {
		out, _, err := prg.Eval(map[string]any{"tool_name": toolName})
		if err != nil {
			continue
		}
		if b, ok := out.Value().(bool); ok && b {
			return true
		}
	}
	return false
}

// requiresVerification decides whether toolName needs a human decision.
// isMCPTool additionally runs the high-risk name heuristic even under
// Mode never, since CM-6 only constrains the static built-in set.
func (g *Gate) requiresVerification(toolName string, isMCPTool bool) bool {
	switch g.mode {
	case ModeAlways:
		return true
	case ModeNever:
		return isMCPTool && highRiskName.MatchString(toolName)
	default: // ModeSelective
		if g.matchesRequireFor(toolName) {
			return true
		}
		return isMCPTool && highRiskName.MatchString(toolName)
	}
}

// Prompt implements the verification state machine: propose, decide auto-approval
// or escalate to the human, and on edit, re-validate before confirming.
func (g *Gate) Prompt(ctx context.Context, toolName string, input map[string]any, schema *validate.Schema, isMCPTool bool) (Verdict, error) {
	scrubbed := g.scrubber.SanitizeRecord(input)
	if err := g.logEvent(ctx, audit.EventToolCallProposed, toolName, scrubbed, "", ""); err != nil {
		return Verdict{}, err
	}

	if !g.requiresVerification(toolName, isMCPTool) {
		if err := g.logEvent(ctx, audit.EventVerificationResult, toolName, scrubbed, audit.ChoiceAutoApproved, audit.OutcomeApproved); err != nil {
			return Verdict{}, err
		}
		return Verdict{Approved: true, Input: input, Choice: audit.ChoiceAutoApproved}, nil
	}

	current := input
	for {
		choice, edited, err := g.prompt.Prompt(ctx, toolName, current)
		if err != nil {
			if logErr := g.logEvent(ctx, audit.EventVerificationResult, toolName, g.scrubber.SanitizeRecord(current), audit.ChoiceInterrupted, audit.OutcomeDenied); logErr != nil {
				return Verdict{}, logErr
			}
			return Verdict{Approved: false, Choice: audit.ChoiceInterrupted}, nil
		}

		switch choice {
		case "y":
			if err := g.logEvent(ctx, audit.EventVerificationResult, toolName, g.scrubber.SanitizeRecord(current), "y", audit.OutcomeApproved); err != nil {
				return Verdict{}, err
			}
			return Verdict{Approved: true, Input: current, Choice: "y"}, nil

		case "n":
			if err := g.logEvent(ctx, audit.EventVerificationResult, toolName, g.scrubber.SanitizeRecord(current), "n", audit.OutcomeDenied); err != nil {
				return Verdict{}, err
			}
			return Verdict{Approved: false, Choice: "n"}, nil

		case "e":
			if schema != nil {
				if err := validate.ValidateToolArgs(toolName, edited, *schema); err != nil {
					// Re-prompt from the top, original input still available.
					continue
				}
			}
			confirmed, err := g.prompt.Confirm(ctx, toolName, edited)
			if err != nil || !confirmed {
				if logErr := g.logEvent(ctx, audit.EventVerificationResult, toolName, g.scrubber.SanitizeRecord(edited), "e", audit.OutcomeDenied); logErr != nil {
					return Verdict{}, logErr
				}
				return Verdict{Approved: false, Choice: "e"}, nil
			}
			if err := g.logEvent(ctx, audit.EventVerificationResult, toolName, g.scrubber.SanitizeRecord(edited), "e", audit.OutcomeApproved); err != nil {
				return Verdict{}, err
			}
			return Verdict{Approved: true, Input: edited, Choice: "e"}, nil

		default:
			// Unrecognized input is treated as a denial, not an error, so a
			// malformed operator reply cannot be used to bypass the gate.
			if err := g.logEvent(ctx, audit.EventVerificationResult, toolName, g.scrubber.SanitizeRecord(current), "n", audit.OutcomeDenied); err != nil {
				return Verdict{}, err
			}
			return Verdict{Approved: false, Choice: "n"}, nil
		}
	}
}

func (g *Gate) logEvent(ctx context.Context, eventType audit.EventType, toolName string, input map[string]any, choice, outcome string) error {
	if g.logger == nil {
		return nil
	}
	return g.logger.Log(ctx, eventType, audit.Record{
		SessionID:    g.sessionID,
		AgentName:    g.agentName,
		ToolName:     toolName,
		ToolInput:    input,
		VerifyChoice: choice,
		Outcome:      outcome,
	})
}
