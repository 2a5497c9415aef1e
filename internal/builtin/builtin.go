// Package builtin implements the five fixed tool callables every agent may
// request: read_file, write_file, list_dir, bash, and web_fetch. Each
// factory closes over the agent's own pathguard.Enforcer so built-ins for
// different agents never share filesystem scope.
package builtin

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/aegisrun/aegis/internal/domain/pathguard"
	"github.com/aegisrun/aegis/internal/domain/tool"
	"github.com/aegisrun/aegis/internal/domain/validate"
)

const defaultBashTimeout = 60
const defaultFetchTimeout = 30
const maxFetchTimeout = 60

func stringArg(args map[string]any, name string) (string, error) {
	raw, ok := args[name]
	if !ok {
		return "", &tool.TypeError{ToolName: name, Reason: fmt.Sprintf("missing required argument %q", name)}
	}
	s, ok := raw.(string)
	if !ok {
		return "", &tool.TypeError{ToolName: name, Reason: fmt.Sprintf("argument %q must be a string", name)}
	}
	return s, nil
}

func intArg(args map[string]any, name string, fallback int) (int, error) {
	raw, ok := args[name]
	if !ok {
		return fallback, nil
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, &tool.TypeError{ToolName: name, Reason: fmt.Sprintf("argument %q must be a number", name)}
	}
}

// ReadFile builds the read_file(path) tool bound to enforcer.
func ReadFile(enforcer *pathguard.Enforcer) tool.Tool {
	schema := tool.Schema{
		Name:        "read_file",
		Description: "Read the full contents of a text file.",
		InputSchema: validate.Schema{
			Type:     "object",
			Required: []string{"path"},
			Properties: map[string]validate.Schema{
				"path": {Type: "string"},
			},
		},
	}
	return tool.NewFunc(schema, func(_ context.Context, args map[string]any) (string, error) {
		path, err := stringArg(args, "path")
		if err != nil {
			return "", err
		}
		resolved, err := enforcer.Check(path, pathguard.OpRead)
		if err != nil {
			return "", err
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return "", err
		}
		if err := validate.CheckContentSize(data, "path", 0); err != nil {
			return "", err
		}
		return string(data), nil
	})
}

// WriteFile builds the write_file(path, content) tool bound to enforcer.
func WriteFile(enforcer *pathguard.Enforcer) tool.Tool {
	schema := tool.Schema{
		Name:        "write_file",
		Description: "Write content to a file, creating or overwriting it.",
		InputSchema: validate.Schema{
			Type:     "object",
			Required: []string{"path", "content"},
			Properties: map[string]validate.Schema{
				"path":    {Type: "string"},
				"content": {Type: "string"},
			},
		},
	}
	return tool.NewFunc(schema, func(_ context.Context, args map[string]any) (string, error) {
		path, err := stringArg(args, "path")
		if err != nil {
			return "", err
		}
		content, err := stringArg(args, "content")
		if err != nil {
			return "", err
		}
		if err := validate.CheckContentSize([]byte(content), "content", 0); err != nil {
			return "", err
		}
		resolved, err := enforcer.Check(path, pathguard.OpWrite)
		if err != nil {
			return "", err
		}
		if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
			return "", err
		}
		return fmt.Sprintf("Successfully wrote %d chars to %s", len(content), path), nil
	})
}

// ListDir builds the list_dir(path?) tool bound to enforcer. An empty or
// missing path lists the first allowed root.
func ListDir(enforcer *pathguard.Enforcer, defaultRoot string) tool.Tool {
	schema := tool.Schema{
		Name:        "list_dir",
		Description: "List entries in a directory.",
		InputSchema: validate.Schema{
			Type:       "object",
			Properties: map[string]validate.Schema{"path": {Type: "string"}},
		},
	}
	return tool.NewFunc(schema, func(_ context.Context, args map[string]any) (string, error) {
		path := defaultRoot
		if raw, ok := args["path"]; ok {
			s, ok := raw.(string)
			if !ok {
				return "", &tool.TypeError{ToolName: "list_dir", Reason: "argument \"path\" must be a string"}
			}
			path = s
		}
		resolved, err := enforcer.Check(path, pathguard.OpList)
		if err != nil {
			return "", err
		}
		entries, err := os.ReadDir(resolved)
		if err != nil {
			return "", err
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() {
				names = append(names, e.Name()+"/")
			} else {
				names = append(names, e.Name())
			}
		}
		return strings.Join(names, "\n"), nil
	})
}

// Bash builds the bash(command, timeout?) tool. The blocklist and size cap
// run before execution, independent of any later human approval.
func Bash() tool.Tool {
	schema := tool.Schema{
		Name:        "bash",
		Description: "Run a shell command and return its combined output.",
		InputSchema: validate.Schema{
			Type:     "object",
			Required: []string{"command"},
			Properties: map[string]validate.Schema{
				"command": {Type: "string"},
				"timeout": {Type: "integer"},
			},
		},
	}
	return tool.NewFunc(schema, func(ctx context.Context, args map[string]any) (string, error) {
		command, err := stringArg(args, "command")
		if err != nil {
			return "", err
		}
		timeout, err := intArg(args, "timeout", defaultBashTimeout)
		if err != nil {
			return "", err
		}
		if err := validate.ValidateBashCommand(command); err != nil {
			return "", err
		}
		timeout = validate.ValidateBashTimeout(timeout)

		runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
		defer cancel()

		cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		runErr := cmd.Run()
		if runCtx.Err() != nil {
			return fmt.Sprintf("Command timed out after %ds", timeout), nil
		}
		if runErr != nil {
			return fmt.Sprintf("Command exited with error: %s\n%s", runErr.Error(), out.String()), nil
		}
		return out.String(), nil
	})
}

// WebFetch builds the web_fetch(url, timeout?) tool. It resolves and pins
// the host via resolver before dialing, and never follows redirects.
func WebFetch(resolver validate.Resolver, pinned *validate.PinnedResolver, requestID string) tool.Tool {
	schema := tool.Schema{
		Name:        "web_fetch",
		Description: "Fetch the body of an HTTP(S) URL.",
		InputSchema: validate.Schema{
			Type:     "object",
			Required: []string{"url"},
			Properties: map[string]validate.Schema{
				"url":     {Type: "string"},
				"timeout": {Type: "integer"},
			},
		},
	}
	return tool.NewFunc(schema, func(ctx context.Context, args map[string]any) (string, error) {
		rawURL, err := stringArg(args, "url")
		if err != nil {
			return "", err
		}
		timeout, err := intArg(args, "timeout", defaultFetchTimeout)
		if err != nil {
			return "", err
		}
		if timeout <= 0 || timeout > maxFetchTimeout {
			timeout = maxFetchTimeout
		}

		if err := validate.ValidateURL(ctx, resolver, rawURL); err != nil {
			return "", err
		}
		defer pinned.Release(requestID)

		parsed, err := url.Parse(rawURL)
		if err != nil {
			return "", err
		}
		pinnedIP, err := pinned.ResolveAndPin(ctx, resolver, requestID, parsed.Hostname())
		if err != nil {
			return "", err
		}

		dialer := &net.Dialer{}
		client := &http.Client{
			Timeout: time.Duration(timeout) * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					_, port, err := net.SplitHostPort(addr)
					if err != nil {
						return nil, err
					}
					return dialer.DialContext(ctx, network, net.JoinHostPort(pinnedIP, port))
				},
			},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return "", err
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, validate.DefaultContentSizeLimit))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("HTTP %d\n%s", resp.StatusCode, string(body)), nil
	})
}
