// Package mcp adapts github.com/modelcontextprotocol/go-sdk's stdio client
// to the mcpconn.Connector contract, emitting MCP_CONNECT/MCP_CONNECT_FAILED
// audit events and capping tool-result bytes at 10 MiB.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/aegisrun/aegis/internal/domain/audit"
	"github.com/aegisrun/aegis/internal/domain/mcpconn"
)

// maxResponseBytes caps a single tool call's response size.
const maxResponseBytes = 10 * 1024 * 1024

const truncationNotice = "\n...[response truncated at 10 MiB]"

// StdioConnector spawns each ServerSpec as a subprocess and speaks MCP over
// its stdin/stdout.
type StdioConnector struct {
	sessionID string
	logger    audit.Logger
	clientImp *sdkmcp.Implementation
}

// NewStdioConnector builds a StdioConnector that logs connection events
// under sessionID.
func NewStdioConnector(sessionID string, logger audit.Logger) *StdioConnector {
	return &StdioConnector{
		sessionID: sessionID,
		logger:    logger,
		clientImp: &sdkmcp.Implementation{Name: "aegis", Version: "0.1.0"},
	}
}

func (c *StdioConnector) Connect(ctx context.Context, spec mcpconn.ServerSpec) (mcpconn.Server, error) {
	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Env = envSlice(spec.Env)

	client := sdkmcp.NewClient(c.clientImp, nil)
	transport := &sdkmcp.CommandTransport{Command: cmd}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		connectErr := fmt.Errorf("mcp: connect to %q failed: %w", spec.Name, err)
		if logErr := c.logFailure(ctx, spec, fmt.Sprintf("connect failed: %v", err)); logErr != nil {
			return nil, errors.Join(connectErr, fmt.Errorf("mcp: logging connect failure for %q: %w", spec.Name, logErr))
		}
		return nil, connectErr
	}

	toolsResp, err := session.ListTools(ctx, &sdkmcp.ListToolsParams{})
	if err != nil {
		_ = session.Close()
		listErr := fmt.Errorf("mcp: list tools on %q failed: %w", spec.Name, err)
		if logErr := c.logFailure(ctx, spec, fmt.Sprintf("tools/list failed: %v", err)); logErr != nil {
			return nil, errors.Join(listErr, fmt.Errorf("mcp: logging list-tools failure for %q: %w", spec.Name, logErr))
		}
		return nil, listErr
	}

	tools := make([]mcpconn.ToolInfo, 0, len(toolsResp.Tools))
	for _, t := range toolsResp.Tools {
		tools = append(tools, mcpconn.ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaToMap(t.InputSchema),
		})
	}

	if c.logger != nil {
		if err := c.logger.Log(ctx, audit.EventMCPConnect, audit.Record{
			SessionID:  c.sessionID,
			ServerName: spec.Name,
			Transport:  "stdio",
			ToolCount:  len(tools),
		}); err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("mcp: logging connect event for %q: %w", spec.Name, err)
		}
	}

	return &stdioServer{name: spec.Name, session: session, tools: tools}, nil
}

func (c *StdioConnector) logFailure(ctx context.Context, spec mcpconn.ServerSpec, detail string) error {
	if c.logger == nil {
		return nil
	}
	return c.logger.Log(ctx, audit.EventMCPConnectFailed, audit.Record{
		SessionID:  c.sessionID,
		ServerName: spec.Name,
		Transport:  "stdio",
		Detail:     detail,
	})
}

// envSlice converts a name->value map into the KEY=VALUE slice exec.Cmd
// expects. Callers must never log spec.Env directly (SC-28): only the
// server name and transport are audited.
func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func schemaToMap(schema any) map[string]any {
	m, ok := schema.(map[string]any)
	if !ok {
		return nil
	}
	return m
}

type stdioServer struct {
	name    string
	session *sdkmcp.ClientSession
	tools   []mcpconn.ToolInfo
}

func (s *stdioServer) Name() string             { return s.name }
func (s *stdioServer) Tools() []mcpconn.ToolInfo { return s.tools }

func (s *stdioServer) Close(context.Context) error {
	return s.session.Close()
}

func (s *stdioServer) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	result, err := s.session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", err
	}

	var out string
	for _, block := range result.Content {
		if text, ok := block.(*sdkmcp.TextContent); ok {
			out += text.Text
		}
	}
	if len(out) > maxResponseBytes {
		out = out[:maxResponseBytes] + truncationNotice
	}
	if result.IsError {
		return out, fmt.Errorf("mcp: tool %q reported an error", name)
	}
	return out, nil
}
