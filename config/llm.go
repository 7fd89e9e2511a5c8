package config

import (
	"os"
	"time"

	"github.com/vinayprograms/courier/llm"
)

// APIKey resolves the provider key. An explicit api_key_env wins, then
// the credentials file, then the provider's default environment variable.
func (l LLMConfig) APIKey() string {
	if l.APIKeyEnv != "" {
		if key := os.Getenv(l.APIKeyEnv); key != "" {
			return key
		}
	}
	if key := l.creds.APIKey(l.provider()); key != "" {
		return key
	}
	envVar := DefaultAPIKeyEnv(l.provider())
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}

func (l LLMConfig) provider() string {
	if l.Provider != "" {
		return l.Provider
	}
	return llm.InferProviderFromModel(l.Model)
}

// DefaultAPIKeyEnv returns the default environment variable name for a provider.
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai", "openai-compat":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	default:
		return ""
	}
}

// ProviderConfig converts the section into an llm.Config.
func (l LLMConfig) ProviderConfig() llm.Config {
	return llm.Config{
		Provider:  l.provider(),
		Model:     l.Model,
		APIKey:    l.APIKey(),
		MaxTokens: l.MaxTokens,
		BaseURL:   l.BaseURL,
		Thinking:  llm.ThinkingConfig{Level: llm.ThinkingLevel(l.Thinking)},
		Retry: llm.RetryConfig{
			MaxRetries: l.MaxRetries,
			MaxBackoff: Duration(l.RetryBackoff, 0),
		},
	}
}

// Summarizer returns the model settings used for attachment summaries:
// small_llm when it names a model, otherwise the main llm section.
func (c *Config) Summarizer() LLMConfig {
	if c.SmallLLM.Model == "" {
		return c.LLM
	}
	s := c.SmallLLM
	if s.MaxTokens == 0 {
		s.MaxTokens = c.LLM.MaxTokens
	}
	if s.Provider == "" && s.APIKeyEnv == "" && llm.InferProviderFromModel(s.Model) == "" {
		s.Provider = c.LLM.Provider
		s.APIKeyEnv = c.LLM.APIKeyEnv
		s.BaseURL = c.LLM.BaseURL
	}
	return s
}

// RateLimitResource names the limiter bucket shared by every process
// talking to the same provider.
func (l LLMConfig) RateLimitResource() string {
	return "llm:" + l.provider()
}

// TaskTTL returns the task retention window.
func (c *Config) TaskTTL() time.Duration {
	return Duration(c.Orchestrator.TaskTTL, time.Hour)
}
