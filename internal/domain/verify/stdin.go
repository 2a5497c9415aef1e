package verify

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// StdinPrompt implements OperatorPrompt by reading from an io.Reader (the
// process's stdin in production) and writing prompts to an io.Writer.
type StdinPrompt struct {
	in  *bufio.Reader
	out io.Writer
}

// NewStdinPrompt builds a StdinPrompt over in/out.
func NewStdinPrompt(in io.Reader, out io.Writer) *StdinPrompt {
	return &StdinPrompt{in: bufio.NewReader(in), out: out}
}

func (p *StdinPrompt) Prompt(ctx context.Context, toolName string, input map[string]any) (string, map[string]any, error) {
	fmt.Fprintf(p.out, "\nTool call: %s\nInput: %s\n[y]es / [n]o / [e]dit > ", toolName, formatInput(input))

	line, err := p.readLine(ctx)
	if err != nil {
		return "", nil, err
	}
	choice := strings.ToLower(strings.TrimSpace(line))

	if choice != "e" {
		return choice, nil, nil
	}

	fmt.Fprintf(p.out, "Enter edited JSON args for %s:\n> ", toolName)
	raw, err := p.readLine(ctx)
	if err != nil {
		return "", nil, err
	}
	var edited map[string]any
	if err := json.Unmarshal([]byte(raw), &edited); err != nil {
		return "n", nil, nil
	}
	return "e", edited, nil
}

func (p *StdinPrompt) Confirm(ctx context.Context, toolName string, edited map[string]any) (bool, error) {
	fmt.Fprintf(p.out, "Confirm edited call to %s with %s? [y/n] > ", toolName, formatInput(edited))
	line, err := p.readLine(ctx)
	if err != nil {
		return false, err
	}
	return strings.ToLower(strings.TrimSpace(line)) == "y", nil
}

func (p *StdinPrompt) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		ch <- result{line: line, err: err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil && r.line == "" {
			return "", r.err
		}
		return r.line, nil
	}
}

func formatInput(input map[string]any) string {
	b, err := json.Marshal(input)
	if err != nil {
		return fmt.Sprintf("%v", input)
	}
	return string(b)
}
