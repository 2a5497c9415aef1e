package provider

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// GeminiProvider implements Provider against Google's Gemini API. The
// client construction and timeout handling are grounded directly on
// blackcoderx-falcon's pkg/llm/gemini.go GeminiClient; this adds the
// function-calling translation the normalized contract needs.
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider builds a GeminiProvider authenticated with apiKey.
func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client, err := genai.NewClient(connectCtx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

func (p *GeminiProvider) CreateMessage(ctx context.Context, model, system string, messages []Message, tools []ToolSpec, maxTokens int) (Response, error) {
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		parts := make([]*genai.Part, 0, len(msg.Content))
		for _, block := range msg.Content {
			switch block.Type {
			case BlockText:
				parts = append(parts, genai.NewPartFromText(block.Text))
			case BlockToolUse:
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: block.ToolName, Args: block.ToolInput},
				})
			case BlockToolResult:
				parts = append(parts, genai.NewPartFromFunctionResponse(block.ToolResultID, map[string]any{
					"content": block.ToolResultContent,
					"isError": block.ToolResultIsError,
				}))
			}
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	config := &genai.GenerateContentConfig{MaxOutputTokens: int32(maxTokens)}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(system)}}
	}
	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(tools))
		for _, t := range tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaFromMap(t.InputSchema),
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return Response{}, fmt.Errorf("gemini (model: %s) request failed: %w", model, err)
	}
	return toResponse(resp), nil
}

func toResponse(resp *genai.GenerateContentResponse) Response {
	out := Response{StopReason: StopEndTurn}
	if len(resp.Candidates) == 0 {
		return out
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part.FunctionCall != nil:
			out.Content = append(out.Content, Block{
				Type:      BlockToolUse,
				ToolUseID: part.FunctionCall.Name,
				ToolName:  part.FunctionCall.Name,
				ToolInput: part.FunctionCall.Args,
			})
			out.StopReason = StopToolUse
		case part.Text != "":
			out.Content = append(out.Content, Text(part.Text))
		}
	}
	return out
}

// schemaFromMap translates the normalized JSON-Schema-as-map input schema
// into Gemini's typed genai.Schema, covering the subset Aegis's tool
// schemas actually use (object/string/integer/number/boolean/array).
func schemaFromMap(m map[string]any) *genai.Schema {
	if m == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	s := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		s.Type = geminiType(t)
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if sub, ok := raw.(map[string]any); ok {
				s.Properties[name] = schemaFromMap(sub)
			}
		}
	}
	if req, ok := m["required"].([]string); ok {
		s.Required = req
	}
	return s
}

func geminiType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "string":
		return genai.TypeString
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	default:
		return genai.TypeString
	}
}
