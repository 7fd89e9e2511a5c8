// Package llm provides the language-model client used by the assistant
// agent: one Provider interface with Anthropic, OpenAI and Google
// implementations, streaming callbacks and retry with backoff.
package llm

import (
	"context"
	"fmt"
	"time"
)

// Message is one conversation turn sent to a model.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool result messages
	Name       string     `json:"name,omitempty"`         // tool name on tool result messages
}

// ToolDef describes a tool to the model.
type ToolDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// ChatRequest is one model call.
type ChatRequest struct {
	Messages  []Message `json:"messages"`
	Tools     []ToolDef `json:"tools,omitempty"`
	MaxTokens int       `json:"max_tokens,omitempty"`

	// Reasoning asks for extended thinking where the model supports it.
	Reasoning bool `json:"reasoning,omitempty"`

	// OnToken, when set, switches the provider to streaming and receives
	// each text delta as it arrives.
	OnToken func(token string) `json:"-"`
}

// ChatResponse is the model's answer.
type ChatResponse struct {
	Content      string     `json:"content"`
	Thinking     string     `json:"thinking,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	StopReason   string     `json:"stop_reason"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
	Model        string     `json:"model"`
}

// Provider is the interface for LLM providers.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider  string         `json:"provider"` // anthropic, openai, google; inferred from Model when empty
	Model     string         `json:"model"`
	APIKey    string         `json:"api_key"`
	MaxTokens int            `json:"max_tokens"`
	BaseURL   string         `json:"base_url"` // OpenAI-compatible gateways, proxies
	Thinking  ThinkingConfig `json:"thinking"`
	Retry     RetryConfig    `json:"retry"`
}

// RetryConfig holds retry settings for model calls.
type RetryConfig struct {
	MaxRetries  int           `json:"max_retries"`  // default 5
	InitBackoff time.Duration `json:"init_backoff"` // default 1s
	MaxBackoff  time.Duration `json:"max_backoff"`  // default 60s
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("api key is required")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens is required")
	}
	return nil
}

// NewProvider creates the provider named by cfg, inferring it from the
// model name when unset. Every provider is wrapped with tracing.
func NewProvider(cfg Config) (Provider, error) {
	if cfg.Provider == "" && cfg.Model != "" {
		cfg.Provider = InferProviderFromModel(cfg.Model)
		if cfg.Provider == "" {
			return nil, fmt.Errorf("cannot determine provider for model %q; set provider explicitly", cfg.Model)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case "anthropic":
		p, err = NewAnthropicProvider(cfg)
	case "openai", "openai-compat":
		p, err = NewOpenAIProvider(cfg)
	case "google":
		p, err = NewGoogleProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return WithTracing(p, cfg.Provider), nil
}

// InferProviderFromModel returns the provider name for well-known model
// name prefixes, or "".
func InferProviderFromModel(model string) string {
	switch {
	case hasAnyPrefix(model, "claude"):
		return "anthropic"
	case hasAnyPrefix(model, "gpt-", "o1", "o3", "o4", "chatgpt"):
		return "openai"
	case hasAnyPrefix(model, "gemini", "gemma"):
		return "google"
	}
	return ""
}
