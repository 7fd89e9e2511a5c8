package llm

import (
	"context"

	"github.com/vinayprograms/courier/telemetry"
)

// TracingProvider opens a client span around every provider request.
type TracingProvider struct {
	next Provider
	name string
}

// WithTracing wraps p so each Chat is traced under the given provider name.
func WithTracing(p Provider, name string) Provider {
	return &TracingProvider{next: p, name: name}
}

func (tp *TracingProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	call := telemetry.ModelCall{
		Provider:  tp.name,
		Messages:  len(req.Messages),
		Tools:     len(req.Tools),
		Streaming: req.OnToken != nil,
		Reasoning: req.Reasoning,
	}
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartModelSpan(ctx, call)

	resp, err := tp.next.Chat(ctx, req)
	if resp != nil {
		call.Model = resp.Model
		call.StopReason = resp.StopReason
		call.ToolCalls = len(resp.ToolCalls)
		call.TokensIn = resp.InputTokens
		call.TokensOut = resp.OutputTokens
		call.Response = resp.Content
	}
	tracer.EndModelSpan(span, call, err)
	return resp, err
}

// Unwrap returns the wrapped provider.
func (tp *TracingProvider) Unwrap() Provider { return tp.next }
