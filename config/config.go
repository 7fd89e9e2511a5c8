// Package config provides configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/vinayprograms/courier/credentials"
)

// Config represents the courier configuration.
type Config struct {
	Orchestrator OrchestratorConfig `toml:"orchestrator" yaml:"orchestrator"`
	Bus          BusConfig          `toml:"bus" yaml:"bus"`
	Store        StoreConfig        `toml:"store" yaml:"store"`
	LLM          LLMConfig          `toml:"llm" yaml:"llm"`
	SmallLLM     LLMConfig          `toml:"small_llm" yaml:"small_llm"` // attachment summaries
	Sandbox      SandboxConfig      `toml:"sandbox" yaml:"sandbox"`
	Policy       PolicyConfig       `toml:"policy" yaml:"policy"`
	Memory       MemoryConfig       `toml:"memory" yaml:"memory"`
	Gateway      GatewayConfig      `toml:"gateway" yaml:"gateway"`
	Log          LogConfig          `toml:"log" yaml:"log"`
	Telemetry    TelemetryConfig    `toml:"telemetry" yaml:"telemetry"`

	creds *credentials.Credentials
}

// OrchestratorConfig controls the task loop.
type OrchestratorConfig struct {
	MaxIterations  int    `toml:"max_iterations" yaml:"max_iterations"`
	Autonomous     bool   `toml:"autonomous" yaml:"autonomous"`
	Streaming      bool   `toml:"streaming" yaml:"streaming"`
	TaskTTL        string `toml:"task_ttl" yaml:"task_ttl"` // retention window, e.g. "1h"
	OverflowNotice string `toml:"overflow_notice" yaml:"overflow_notice"`
	SystemPrompt   string `toml:"system_prompt" yaml:"system_prompt"`
	MemoryTimeout  string `toml:"memory_timeout" yaml:"memory_timeout"`
}

// BusConfig selects the event bus transport.
type BusConfig struct {
	Backend    string `toml:"backend" yaml:"backend"` // memory | nats
	URL        string `toml:"url" yaml:"url"`
	Name       string `toml:"name" yaml:"name"`
	Prefix     string `toml:"prefix" yaml:"prefix"`
	WorkQueue  string `toml:"work_queue" yaml:"work_queue"` // share incoming messages across processes
	BufferSize int    `toml:"buffer_size" yaml:"buffer_size"`

	// HeartbeatInterval spaces liveness beats from serve processes.
	HeartbeatInterval string `toml:"heartbeat_interval" yaml:"heartbeat_interval"`
}

// StoreConfig selects the task store backend.
type StoreConfig struct {
	Backend    string `toml:"backend" yaml:"backend"` // memory | nats
	Bucket     string `toml:"bucket" yaml:"bucket"`
	TodoBucket string `toml:"todo_bucket" yaml:"todo_bucket"`
	TodoTTL    string `toml:"todo_ttl" yaml:"todo_ttl"`
}

// LLMConfig contains LLM provider settings.
type LLMConfig struct {
	Provider     string `toml:"provider" yaml:"provider"`
	Model        string `toml:"model" yaml:"model"`
	APIKeyEnv    string `toml:"api_key_env" yaml:"api_key_env"`
	MaxTokens    int    `toml:"max_tokens" yaml:"max_tokens"`
	BaseURL      string `toml:"base_url" yaml:"base_url"` // OpenAI-compatible endpoints
	Thinking     string `toml:"thinking" yaml:"thinking"` // auto|off|low|medium|high
	MaxRetries   int    `toml:"max_retries" yaml:"max_retries"`
	RetryBackoff string `toml:"retry_backoff" yaml:"retry_backoff"` // max backoff, e.g. "60s"

	// RequestsPerMinute throttles calls per provider; 0 disables. With
	// a NATS bus, rate-limit pushback is shared across processes.
	RequestsPerMinute int `toml:"requests_per_minute" yaml:"requests_per_minute"`

	creds *credentials.Credentials
}

// SandboxConfig bounds tool processes.
type SandboxConfig struct {
	Workspace  string `toml:"workspace" yaml:"workspace"`
	CPUSeconds int    `toml:"cpu_seconds" yaml:"cpu_seconds"`
	MemoryMB   int    `toml:"memory_mb" yaml:"memory_mb"`
	Network    bool   `toml:"network" yaml:"network"`
	Timeout    string `toml:"timeout" yaml:"timeout"`
	UseHelper  bool   `toml:"use_helper" yaml:"use_helper"` // re-exec through `courier sandbox-exec`
}

// PolicyConfig points at the skill policy file.
type PolicyConfig struct {
	File string `toml:"file" yaml:"file"`
}

// MemoryConfig selects long-term memory.
type MemoryConfig struct {
	Backend string `toml:"backend" yaml:"backend"` // bleve | memory | off
	Path    string `toml:"path" yaml:"path"`
}

// GatewayConfig configures the WebSocket channel adapter.
type GatewayConfig struct {
	Listen string `toml:"listen" yaml:"listen"`
	Path   string `toml:"path" yaml:"path"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
}

// TelemetryConfig contains telemetry settings.
type TelemetryConfig struct {
	Enabled        bool    `toml:"enabled" yaml:"enabled"`
	Endpoint       string  `toml:"endpoint" yaml:"endpoint"` // OTLP endpoint (e.g., localhost:4317)
	Protocol       string  `toml:"protocol" yaml:"protocol"` // grpc (default) or http
	Insecure       bool    `toml:"insecure" yaml:"insecure"`
	SampleRatio    float64 `toml:"sample_ratio" yaml:"sample_ratio"`       // fraction of new traces kept
	Debug          bool    `toml:"debug" yaml:"debug"`                     // record prompts, responses and skill params on spans
	EventsProtocol string  `toml:"events_protocol" yaml:"events_protocol"` // noop | file | http
	EventsEndpoint string  `toml:"events_endpoint" yaml:"events_endpoint"` // file path or URL
}

// New creates a new config with defaults.
func New() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			MaxIterations: 10,
			Streaming:     true,
			TaskTTL:       "1h",
			MemoryTimeout: "30s",
		},
		Bus: BusConfig{
			Backend:    "memory",
			URL:        "nats://127.0.0.1:4222",
			Name:       "courier",
			Prefix:     "courier.",
			BufferSize: 256,

			HeartbeatInterval: "5s",
		},
		Store: StoreConfig{
			Backend:    "memory",
			Bucket:     "courier-tasks",
			TodoBucket: "courier-todo",
			TodoTTL:    "720h",
		},
		LLM: LLMConfig{
			MaxTokens: 4096,
			Thinking:  "auto",
		},
		Sandbox: SandboxConfig{
			Workspace:  ".",
			CPUSeconds: 10,
			MemoryMB:   512,
			UseHelper:  true,
		},
		Memory: MemoryConfig{
			Backend: "bleve",
			Path:    "~/.local/courier",
		},
		Gateway: GatewayConfig{
			Listen: "127.0.0.1:8420",
			Path:   "/ws",
		},
		Log: LogConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			Protocol:       "grpc",
			SampleRatio:    1,
			EventsProtocol: "noop",
		},
	}
}

// LoadFile loads configuration from a TOML or YAML file, chosen by
// extension. Unset keys keep their defaults.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	return cfg, nil
}

// DefaultFiles are tried in order by LoadDefault.
var DefaultFiles = []string{"courier.toml", "courier.yaml", "courier.yml"}

// LoadDefault loads the first of DefaultFiles found in the current
// directory, or returns the defaults when there is none.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	for _, name := range DefaultFiles {
		path := filepath.Join(cwd, name)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	return New(), nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	if c.Orchestrator.MaxIterations < 0 {
		errs = append(errs, errors.New("orchestrator.max_iterations must not be negative"))
	}
	if !oneOf(c.Bus.Backend, "memory", "nats") {
		errs = append(errs, fmt.Errorf("bus.backend %q: want memory or nats", c.Bus.Backend))
	}
	if !oneOf(c.Store.Backend, "memory", "nats") {
		errs = append(errs, fmt.Errorf("store.backend %q: want memory or nats", c.Store.Backend))
	}
	if !oneOf(c.Memory.Backend, "bleve", "memory", "off", "") {
		errs = append(errs, fmt.Errorf("memory.backend %q: want bleve, memory or off", c.Memory.Backend))
	}
	if c.LLM.Thinking != "" && !oneOf(c.LLM.Thinking, "auto", "off", "low", "medium", "high") {
		errs = append(errs, fmt.Errorf("llm.thinking %q: want auto, off, low, medium or high", c.LLM.Thinking))
	}
	if c.LLM.RequestsPerMinute < 0 || c.SmallLLM.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("llm.requests_per_minute must not be negative"))
	}
	if r := c.Telemetry.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio %v: want 0 to 1", r))
	}
	if c.Sandbox.CPUSeconds < 0 || c.Sandbox.MemoryMB < 0 {
		errs = append(errs, errors.New("sandbox limits must not be negative"))
	}
	for name, v := range map[string]string{
		"orchestrator.task_ttl":       c.Orchestrator.TaskTTL,
		"orchestrator.memory_timeout": c.Orchestrator.MemoryTimeout,
		"store.todo_ttl":              c.Store.TodoTTL,
		"llm.retry_backoff":           c.LLM.RetryBackoff,
		"small_llm.retry_backoff":     c.SmallLLM.RetryBackoff,
		"sandbox.timeout":             c.Sandbox.Timeout,
		"bus.heartbeat_interval":      c.Bus.HeartbeatInterval,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Duration parses s, returning def when s is empty or invalid.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
