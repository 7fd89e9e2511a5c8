// OpenTelemetry tracing for tasks, stages, skills and model calls.
package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with courier-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // include message content in span attributes
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a tracer from the global otel provider.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{tracer: otel.Tracer(name), debug: debug}
}

// NewTracerFrom creates a tracer from an explicit provider.
func NewTracerFrom(tp trace.TracerProvider, name string, debug bool) *Tracer {
	return &Tracer{tracer: tp.Tracer(name), debug: debug}
}

// Debug returns whether content is recorded.
func (t *Tracer) Debug() bool { return t.debug }

// --- Task Spans ---

// StartTaskSpan starts the root span of one task.
func (t *Tracer) StartTaskSpan(ctx context.Context, taskID, chatID string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "task", trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(
		attribute.String("task.id", taskID),
		attribute.String("task.chat_id", chatID),
	)
	return ctx, span
}

// EndTaskSpan records how the task ended.
func (t *Tracer) EndTaskSpan(span trace.Span, outcome string, iterations int) {
	span.SetAttributes(
		attribute.String("task.outcome", outcome),
		attribute.Int("task.iterations", iterations),
	)
	span.SetStatus(codes.Ok, "")
	span.End()
}

// StartStageSpan starts a span for one agent dispatch.
func (t *Tracer) StartStageSpan(ctx context.Context, stage string, iteration int) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "stage."+stage, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("stage.name", stage),
		attribute.Int("stage.iteration", iteration),
	)
	return ctx, span
}

// EndStageSpan ends a stage span. errText is the agent failure, if any.
func (t *Tracer) EndStageSpan(span trace.Span, next string, errText string) {
	if next != "" {
		span.SetAttributes(attribute.String("stage.next", next))
	}
	if errText != "" {
		span.SetStatus(codes.Error, errText)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Model Call Spans ---

// ModelCall describes one request to a model provider. The request side is
// known when the span starts; the response side is filled in at the end.
type ModelCall struct {
	Provider  string
	Messages  int
	Tools     int
	Streaming bool
	Reasoning bool

	Model      string
	StopReason string
	ToolCalls  int
	TokensIn   int
	TokensOut  int
	Response   string // debug only
}

// StartModelSpan starts a client span for a provider request.
func (t *Tracer) StartModelSpan(ctx context.Context, call ModelCall) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "llm.chat", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("llm.provider", call.Provider),
		attribute.Int("llm.request.messages", call.Messages),
		attribute.Int("llm.request.tools", call.Tools),
		attribute.Bool("llm.request.streaming", call.Streaming),
		attribute.Bool("llm.request.reasoning", call.Reasoning),
	)
	return ctx, span
}

// EndModelSpan records the response side of call and ends the span.
func (t *Tracer) EndModelSpan(span trace.Span, call ModelCall, err error) {
	if err == nil {
		span.SetAttributes(
			attribute.String("llm.model", call.Model),
			attribute.String("llm.stop_reason", call.StopReason),
			attribute.Int("llm.response.tool_calls", call.ToolCalls),
			attribute.Int("llm.tokens.input", call.TokensIn),
			attribute.Int("llm.tokens.output", call.TokensOut),
		)
		if t.debug && call.Response != "" {
			span.SetAttributes(attribute.String("llm.response", truncate(call.Response, 4000)))
		}
	}
	endWithError(span, err)
}

// --- Skill Spans ---

// SkillSpanOptions contains options for skill execution spans.
type SkillSpanOptions struct {
	Skill  string
	Params map[string]interface{}
	OK     bool
	Result string // only recorded in debug mode
}

// StartSkillSpan starts a span for a skill execution.
func (t *Tracer) StartSkillSpan(ctx context.Context, skill string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "skill."+skill, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("skill.name", skill))
	return ctx, span
}

// EndSkillSpan ends a skill span with attributes.
func (t *Tracer) EndSkillSpan(span trace.Span, opts SkillSpanOptions, err error) {
	// parameter values may carry user data
	keys := make([]string, 0, len(opts.Params))
	for k, v := range opts.Params {
		keys = append(keys, k)
		if t.debug {
			span.SetAttributes(attribute.String("skill.param."+k, truncate(fmt.Sprint(v), 500)))
		}
	}
	span.SetAttributes(
		attribute.StringSlice("skill.params", keys),
		attribute.Bool("skill.ok", opts.OK),
	)
	if t.debug && opts.Result != "" {
		span.SetAttributes(attribute.String("skill.result", truncate(opts.Result, 4000)))
	}
	endWithError(span, err)
}

func endWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
