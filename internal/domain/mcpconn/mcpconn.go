// Package mcpconn defines the contract for connecting to Model Context
// Protocol servers and exposing their tools through the same Tool
// interface as built-ins, so the agent loop and registry never need to
// know a given tool is MCP-owned.
package mcpconn

import "context"

// ServerSpec describes one stdio MCP server to spawn. Env values must
// never be written to the audit log (SC-28): callers log ServerSpec.Name
// and Transport only.
type ServerSpec struct {
	Name    string            `yaml:"name" mapstructure:"name"`
	Command string            `yaml:"command" mapstructure:"command"`
	Args    []string          `yaml:"args" mapstructure:"args"`
	Env     map[string]string `yaml:"env" mapstructure:"env"`
}

// ToolInfo is the normalized shape of one tool an MCP server exposes.
type ToolInfo struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Server is a live connection to one MCP server.
type Server interface {
	Name() string
	Tools() []ToolInfo
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
	Close(ctx context.Context) error
}

// Connector spawns and connects to MCP servers.
type Connector interface {
	Connect(ctx context.Context, spec ServerSpec) (Server, error)
}
