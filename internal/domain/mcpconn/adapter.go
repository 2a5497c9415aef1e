package mcpconn

import (
	"context"

	"github.com/aegisrun/aegis/internal/domain/tool"
	"github.com/aegisrun/aegis/internal/domain/validate"
)

// AsTools wraps every tool a connected Server exposes as a tool.Tool, so it
// can be registered into a tool.Registry via AddMCPTool alongside built-ins.
func AsTools(server Server) []tool.Tool {
	infos := server.Tools()
	out := make([]tool.Tool, 0, len(infos))
	for _, info := range infos {
		out = append(out, mcpTool{server: server, info: info})
	}
	return out
}

type mcpTool struct {
	server Server
	info   ToolInfo
}

func (t mcpTool) Schema() tool.Schema {
	return tool.Schema{
		Name:        t.info.Name,
		Description: t.info.Description,
		InputSchema: schemaFromMap(t.info.InputSchema),
	}
}

func (t mcpTool) Call(ctx context.Context, args map[string]any) (string, error) {
	return t.server.CallTool(ctx, t.info.Name, args)
}

// schemaFromMap translates the raw JSON-Schema-as-map an MCP server
// advertises into the normalized validate.Schema subset the gate's
// re-validation step understands. Unsupported shapes degrade to an
// untyped schema rather than failing the connection.
func schemaFromMap(m map[string]any) validate.Schema {
	schema := validate.Schema{Type: "object"}
	if m == nil {
		return schema
	}
	if required, ok := m["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	props, ok := m["properties"].(map[string]any)
	if !ok {
		return schema
	}
	schema.Properties = make(map[string]validate.Schema, len(props))
	for name, raw := range props {
		propMap, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		propType, _ := propMap["type"].(string)
		schema.Properties[name] = validate.Schema{Type: propType}
	}
	return schema
}
