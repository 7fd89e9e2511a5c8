package orchestrator

import (
	"time"

	"github.com/vinayprograms/courier/agents"
)

const (
	// DefaultMaxIterations is the configured tool-round bound when unset.
	DefaultMaxIterations = 10

	// Outside autonomous mode the bound is clamped into [MinManualBound, MaxManualBound].
	MinManualBound = 4
	MaxManualBound = 8

	// DefaultMemoryTimeout bounds the background memory consolidation.
	DefaultMemoryTimeout = 30 * time.Second
)

// User-facing texts.
const (
	DefaultOverflowNotice = "I've used all the tool rounds I'm allowed for this message. " +
		"Tell me to continue if you'd like me to keep going."
	FailureReply           = agents.InternalFailure
	AttachmentFailureReply = "Sorry, I couldn't read the attached file."
)

// Config controls the task loop.
type Config struct {
	MaxIterations  int
	Autonomous     bool
	Streaming      bool
	OverflowNotice string
	MemoryTimeout  time.Duration
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:  DefaultMaxIterations,
		Streaming:      true,
		OverflowNotice: DefaultOverflowNotice,
		MemoryTimeout:  DefaultMemoryTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.OverflowNotice == "" {
		c.OverflowNotice = DefaultOverflowNotice
	}
	if c.MemoryTimeout <= 0 {
		c.MemoryTimeout = DefaultMemoryTimeout
	}
	return c
}

// Bound returns the effective number of assistant-to-tool rounds a task
// may take.
func (c Config) Bound() int {
	n := c.MaxIterations
	if n <= 0 {
		n = DefaultMaxIterations
	}
	if c.Autonomous {
		return n
	}
	if n < MinManualBound {
		return MinManualBound
	}
	if n > MaxManualBound {
		return MaxManualBound
	}
	return n
}

// maxSteps caps dispatches per task. Only assistant-to-tool transitions
// count against Bound, so an agent bouncing between stages without
// issuing tool calls is stopped here instead.
func (c Config) maxSteps() int {
	return c.Bound()*2 + 2
}
