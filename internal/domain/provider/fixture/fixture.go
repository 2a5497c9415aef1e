// Package fixture provides a scripted provider.Provider for driving the
// agent loop deterministically in tests, without a network dependency.
package fixture

import (
	"context"
	"fmt"
	"sync"

	"github.com/aegisrun/aegis/internal/domain/provider"
)

// Provider replays a fixed sequence of responses, one per CreateMessage
// call, and records every call it received for assertions.
type Provider struct {
	mu        sync.Mutex
	responses []provider.Response
	next      int
	Calls     []CallRecord
}

// CallRecord captures one CreateMessage invocation for test assertions.
type CallRecord struct {
	Model    string
	System   string
	Messages []provider.Message
	Tools    []provider.ToolSpec
}

// New builds a Provider that returns responses in order, one per call.
func New(responses ...provider.Response) *Provider {
	return &Provider{responses: responses}
}

func (p *Provider) CreateMessage(_ context.Context, model, system string, messages []provider.Message, tools []provider.ToolSpec, _ int) (provider.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, CallRecord{Model: model, System: system, Messages: messages, Tools: tools})

	if p.next >= len(p.responses) {
		return provider.Response{}, fmt.Errorf("fixture: no scripted response left for call %d", p.next+1)
	}
	resp := p.responses[p.next]
	p.next++
	return resp, nil
}
