package agents

import (
	"context"
	"fmt"
	"sort"
	"time"

	apperrors "github.com/vinayprograms/courier/errors"
	"github.com/vinayprograms/courier/logging"
)

// Registry maps stage names to agents. Agents are registered during
// wiring; lookups afterwards are read-only.
type Registry struct {
	agents map[string]Agent
	logger *logging.Logger
}

// NewRegistry creates a registry holding the given agents.
func NewRegistry(logger *logging.Logger, agents ...Agent) (*Registry, error) {
	r := &Registry{
		agents: make(map[string]Agent),
		logger: logging.OrNop(logger).WithComponent("agents"),
	}
	for _, a := range agents {
		if err := r.Register(a.Name(), a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an agent under name.
func (r *Registry) Register(name string, a Agent) error {
	if name == "" {
		return fmt.Errorf("agent name is required")
	}
	if _, exists := r.agents[name]; exists {
		return fmt.Errorf("agent %q already registered", name)
	}
	r.agents[name] = a
	return nil
}

// Has reports whether an agent is registered under name.
func (r *Registry) Has(name string) bool {
	_, ok := r.agents[name]
	return ok
}

// Names returns the registered stage names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.agents))
	for n := range r.agents {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs the agent registered under name. An unknown name or a
// panicking agent yields a failure result; Dispatch itself never fails. A
// panic is logged and reported as InternalFailure.
func (r *Registry) Dispatch(ctx context.Context, name string, c *Context) (res Result) {
	a, ok := r.agents[name]
	if !ok {
		err := apperrors.UnknownAgent(name)
		r.logger.Warn("dispatch to unknown agent", map[string]interface{}{"agent": name, "task": c.TaskID})
		return Failure(err.Message())
	}

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			perr := apperrors.RecoverPanic(rec)
			r.logger.Error("agent panicked", map[string]interface{}{
				"agent": name,
				"task":  c.TaskID,
				"error": perr.Message(),
			})
			res = Failure(InternalFailure)
		}
		r.logger.Debug("agent finished", map[string]interface{}{
			"agent":    name,
			"task":     c.TaskID,
			"success":  res.Success,
			"next":     string(res.NextStage),
			"duration": time.Since(start).String(),
		})
	}()
	return a.Handle(ctx, c)
}
