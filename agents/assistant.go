package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vinayprograms/courier/core"
	"github.com/vinayprograms/courier/llm"
	"github.com/vinayprograms/courier/logging"
	"github.com/vinayprograms/courier/memory"
	"github.com/vinayprograms/courier/skills"
)

// DefaultSystemPrompt is used when no system prompt is configured.
const DefaultSystemPrompt = `You are a personal assistant reachable over chat.
Answer directly when you can. Use the available tools when the request needs
files, commands, memory or the user's todo list. When a tool already gave the
user what they asked for, reply briefly instead of repeating it.`

// ModelUnavailableReply is shown to the user when the model cannot be reached.
const ModelUnavailableReply = "Sorry, I couldn't reach the language model just now. Please try again in a moment."

const (
	maxToolResultChars = 16 * 1024
	recallLimit        = 3
	recallMinScore     = 0.2
)

// Catalog lists the tools offered to the model. *skills.Registry
// satisfies it.
type Catalog interface {
	Definitions() []skills.Definition
}

// Recaller looks up long-term memories relevant to a message.
type Recaller interface {
	Recall(ctx context.Context, query string, opts memory.RecallOpts) ([]memory.MemoryResult, error)
}

// Assistant is the assistant-stage agent: it asks the model for either a
// final answer or a set of tool calls.
type Assistant struct {
	provider     llm.Provider
	catalog      Catalog
	recaller     Recaller
	systemPrompt string
	maxTokens    int
	now          func() time.Time
	logger       *logging.Logger
}

// AssistantOption configures an Assistant.
type AssistantOption func(*Assistant)

// WithSystemPrompt overrides DefaultSystemPrompt.
func WithSystemPrompt(p string) AssistantOption {
	return func(a *Assistant) {
		if p != "" {
			a.systemPrompt = p
		}
	}
}

// WithRecaller adds relevant memories to the system prompt.
func WithRecaller(r Recaller) AssistantOption {
	return func(a *Assistant) { a.recaller = r }
}

// WithMaxTokens caps the model's output per call.
func WithMaxTokens(n int) AssistantOption {
	return func(a *Assistant) { a.maxTokens = n }
}

// WithAssistantLogger sets the logger.
func WithAssistantLogger(l *logging.Logger) AssistantOption {
	return func(a *Assistant) { a.logger = logging.OrNop(l).WithComponent("assistant") }
}

// NewAssistant creates the assistant agent.
func NewAssistant(provider llm.Provider, catalog Catalog, opts ...AssistantOption) *Assistant {
	a := &Assistant{
		provider:     provider,
		catalog:      catalog,
		systemPrompt: DefaultSystemPrompt,
		now:          time.Now,
		logger:       logging.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Assistant) Name() string { return string(core.StageAssistant) }

// Handle implements Agent.
func (a *Assistant) Handle(ctx context.Context, c *Context) Result {
	req := llm.ChatRequest{
		Messages:  a.buildMessages(ctx, c),
		Tools:     a.tools(),
		MaxTokens: a.maxTokens,
		Reasoning: c.Reasoning,
		OnToken:   c.OnToken,
	}

	resp, err := a.provider.Chat(ctx, req)
	if err != nil {
		a.logger.Error("model call failed", map[string]interface{}{"task": c.TaskID, "error": err.Error()})
		return Result{
			Success:  false,
			Error:    ModelUnavailableReply,
			Metadata: map[string]string{"cause": err.Error()},
		}
	}

	meta := map[string]string{
		"model":         resp.Model,
		"input_tokens":  fmt.Sprint(resp.InputTokens),
		"output_tokens": fmt.Sprint(resp.OutputTokens),
	}

	if len(resp.ToolCalls) > 0 {
		calls := make([]core.ToolCall, 0, len(resp.ToolCalls))
		for i, tc := range resp.ToolCalls {
			id := tc.ID
			if id == "" {
				id = fmt.Sprintf("call_%d_%d", c.Iteration, i)
			}
			params := tc.Args
			if params == nil {
				params = map[string]interface{}{}
			}
			calls = append(calls, core.ToolCall{ID: id, Name: tc.Name, Params: params})
		}
		return Result{
			Success:   true,
			Output:    resp.Content,
			NextStage: core.StageTool,
			ToolCalls: calls,
			Metadata:  meta,
		}
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		text = "(no answer)"
	}
	return Result{Success: true, Output: text, Metadata: meta}
}

// buildMessages replays the task as a conversation: the user's text, then
// one assistant tool call and its tool result per history entry.
func (a *Assistant) buildMessages(ctx context.Context, c *Context) []llm.Message {
	system := a.systemPrompt + "\n\nCurrent time: " + a.now().UTC().Format(time.RFC1123)
	if recalled := a.recall(ctx, c); recalled != "" {
		system += "\n\nThings you remember about this user:\n" + recalled
	}

	msgs := make([]llm.Message, 0, 2+2*len(c.ToolResults))
	msgs = append(msgs,
		llm.Message{Role: "system", Content: system},
		llm.Message{Role: "user", Content: c.Text},
	)

	for i, tr := range c.ToolResults {
		id := tr.CallID
		if id == "" {
			id = fmt.Sprintf("call_h%d", i)
		}
		msgs = append(msgs,
			llm.Message{
				Role:      "assistant",
				ToolCalls: []llm.ToolCall{{ID: id, Name: tr.Tool, Args: tr.Params}},
			},
			llm.Message{
				Role:       "tool",
				ToolCallID: id,
				Name:       tr.Tool,
				Content:    clip(tr.Result.Text(), maxToolResultChars),
			},
		)
	}
	return msgs
}

func (a *Assistant) recall(ctx context.Context, c *Context) string {
	if a.recaller == nil || strings.TrimSpace(c.Text) == "" {
		return ""
	}
	found, err := a.recaller.Recall(ctx, c.Text, memory.RecallOpts{
		Limit:    recallLimit,
		MinScore: recallMinScore,
		UserID:   c.UserID,
	})
	if err != nil {
		a.logger.Warn("memory recall failed", map[string]interface{}{"task": c.TaskID, "error": err.Error()})
		return ""
	}
	var b strings.Builder
	for _, m := range found {
		fmt.Fprintf(&b, "- %s\n", m.Content)
	}
	return b.String()
}

func (a *Assistant) tools() []llm.ToolDef {
	if a.catalog == nil {
		return nil
	}
	defs := a.catalog.Definitions()
	tools := make([]llm.ToolDef, 0, len(defs))
	for _, d := range defs {
		tools = append(tools, llm.ToolDef{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
	}
	return tools
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n[truncated]"
}
