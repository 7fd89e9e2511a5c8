package shutdown

import (
	"context"
	"errors"
	"time"
)

// Phases used by the courier process.
const (
	PhaseIntake  = 10
	PhaseDrain   = 20
	PhaseBus     = 30
	PhaseStorage = 40
)

var (
	// ErrAlreadyShutdown is returned by Shutdown after the first call.
	ErrAlreadyShutdown = errors.New("shutdown already initiated")

	// ErrTimeout indicates phases were skipped because the deadline passed.
	ErrTimeout = errors.New("shutdown timeout exceeded")
)

// Handler is implemented by components that need an orderly stop.
type Handler interface {
	OnShutdown(ctx context.Context) error
}

// Func adapts a function to Handler.
type Func func(ctx context.Context) error

// OnShutdown implements Handler.
func (f Func) OnShutdown(ctx context.Context) error { return f(ctx) }

// Closer adapts a plain Close method.
func Closer(c interface{ Close() error }) Handler {
	return Func(func(context.Context) error { return c.Close() })
}

// Step is the outcome of one handler.
type Step struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Report summarises a completed shutdown.
type Report struct {
	Duration time.Duration
	Steps    []Step
	Err      error
}

// Failed returns the names of handlers that returned an error.
func (r *Report) Failed() []string {
	var failed []string
	for _, s := range r.Steps {
		if s.Err != nil {
			failed = append(failed, s.Name)
		}
	}
	return failed
}

// Config configures the coordinator.
type Config struct {
	// Timeout bounds a signal-triggered shutdown. Default: 30s.
	Timeout time.Duration

	// StopOnError skips later phases once a handler fails.
	StopOnError bool
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{Timeout: 30 * time.Second}
}
