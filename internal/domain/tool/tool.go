// Package tool defines the Tool contract every built-in and MCP-discovered
// capability implements, plus the Registry that dispatches calls through
// validation, path confinement, and audit logging.
package tool

import (
	"context"

	"github.com/aegisrun/aegis/internal/domain/validate"
)

// Schema describes a tool's name, human-readable purpose, and input shape.
type Schema struct {
	Name        string
	Description string
	InputSchema validate.Schema
}

// Tool is anything the agent loop can invoke by name. Built-ins and
// MCP-backed tools share this contract; the registry does not care which.
type Tool interface {
	Schema() Schema
	Call(ctx context.Context, args map[string]any) (string, error)
}

// Func adapts a plain function into a Tool.
type Func struct {
	schema Schema
	fn     func(ctx context.Context, args map[string]any) (string, error)
}

// NewFunc builds a Tool from a schema and a call function.
func NewFunc(schema Schema, fn func(ctx context.Context, args map[string]any) (string, error)) Func {
	return Func{schema: schema, fn: fn}
}

func (f Func) Schema() Schema { return f.schema }

func (f Func) Call(ctx context.Context, args map[string]any) (string, error) {
	return f.fn(ctx, args)
}
