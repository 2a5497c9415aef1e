// Package audit defines the tamper-evident audit record shape and the fixed
// event-type catalog every Aegis security component writes through.
package audit

import "time"

// EventType is one of the fixed catalog values below. Unlike an open-ended
// SOC2 event taxonomy, this catalog is closed: Aegis is a single-session
// runtime, not a multi-tenant compliance platform.
type EventType string

const (
	EventSessionStart       EventType = "SESSION_START"
	EventSessionEnd         EventType = "SESSION_END"
	EventAgentTaskStart     EventType = "AGENT_TASK_START"
	EventAgentTaskEnd       EventType = "AGENT_TASK_END"
	EventToolCallProposed   EventType = "TOOL_CALL_PROPOSED"
	EventVerificationResult EventType = "VERIFICATION_DECISION"
	EventToolExecuted       EventType = "TOOL_EXECUTED"
	EventToolBlocked        EventType = "TOOL_BLOCKED"
	EventToolAccessDenied   EventType = "TOOL_ACCESS_DENIED"
	EventAgentHandoff       EventType = "AGENT_HANDOFF"
	EventMCPConnect         EventType = "MCP_CONNECT"
	EventMCPConnectFailed   EventType = "MCP_CONNECT_FAILED"
	EventValidationFailed   EventType = "VALIDATION_FAILED"
)

// Record is one append-only audit line. Mandatory AU-3 fields are always
// present; everything else is omitted entirely from the serialized JSON
// when empty/nil so the fixed event catalog stays legible in the log.
type Record struct {
	EventID       string         `json:"event_id"`
	TimestampUTC  time.Time      `json:"timestamp_utc"`
	SessionID     string         `json:"session_id"`
	EventType     EventType      `json:"event_type"`
	Operator      string         `json:"operator,omitempty"`
	AgentName     string         `json:"agent_name,omitempty"`
	Model         string         `json:"model,omitempty"`
	ToolName      string         `json:"tool_name,omitempty"`
	ToolInput     map[string]any `json:"tool_input_scrubbed,omitempty"`
	Outcome       string         `json:"outcome,omitempty"`
	Detail        string         `json:"detail,omitempty"`
	ResultSummary string         `json:"result_summary,omitempty"`
	VerifyChoice  string         `json:"verification_choice,omitempty"`
	TurnsUsed     int            `json:"turns_used,omitempty"`
	TaskSummary   string         `json:"task_summary,omitempty"`
	ServerName    string         `json:"server_name,omitempty"`
	Transport     string         `json:"transport,omitempty"`
	ToolCount     int            `json:"tool_count,omitempty"`
}

// Outcome values used across Record.Outcome.
const (
	OutcomeApproved  = "approved"
	OutcomeDenied    = "denied"
	OutcomeSuccess   = "success"
	OutcomeCompleted = "completed"
	OutcomeMaxTurns  = "max_turns"
)

// Verification choice values used in Record.VerifyChoice.
const (
	ChoiceYes          = "y"
	ChoiceNo           = "n"
	ChoiceEdit         = "e"
	ChoiceInterrupted  = "interrupted"
	ChoiceAutoApproved = "auto_approved"
)
