package llm

import (
	"context"
	"strings"
	"sync"
)

// --- Mock Provider for Testing ---

// MockProvider is a scripted provider for tests. Responses queued with
// Script are returned in order; once the script runs out the default
// response is repeated.
type MockProvider struct {
	mu        sync.Mutex
	script    []*ChatResponse
	response  string
	err       error
	requests  []ChatRequest
	callCount int

	// ChatFunc can be overridden for custom behavior
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// NewMockProvider creates a new mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Script queues responses to return in order.
func (p *MockProvider) Script(responses ...*ChatResponse) *MockProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.script = append(p.script, responses...)
	return p
}

// SetResponse sets the default text response.
func (p *MockProvider) SetResponse(content string) {
	p.mu.Lock()
	p.response = content
	p.mu.Unlock()
}

// SetError sets an error to return.
func (p *MockProvider) SetError(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Requests returns a copy of every request received.
func (p *MockProvider) Requests() []ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ChatRequest(nil), p.requests...)
}

// CallCount returns the number of Chat calls made.
func (p *MockProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.callCount
}

// Chat implements the Provider interface. Text is streamed word by word
// to OnToken when the request asks for it.
func (p *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	p.mu.Lock()
	p.callCount++
	p.requests = append(p.requests, req)
	fn := p.ChatFunc
	err := p.err
	var resp ChatResponse
	if len(p.script) > 0 {
		resp = *p.script[0]
		p.script = p.script[1:]
	} else {
		resp = ChatResponse{Content: p.response}
	}
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if resp.StopReason == "" {
		resp.StopReason = "end_turn"
		if len(resp.ToolCalls) > 0 {
			resp.StopReason = "tool_use"
		}
	}
	if resp.Model == "" {
		resp.Model = "mock"
	}
	if req.OnToken != nil && resp.Content != "" {
		words := strings.SplitAfter(resp.Content, " ")
		for _, w := range words {
			req.OnToken(w)
		}
	}
	return &resp, nil
}
