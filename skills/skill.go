// Package skills provides the skill registry and the builtin skills a
// model can call: filesystem access, a restricted shell, read-only git,
// memory search, a todo list and user notifications.
package skills

import (
	"context"

	"github.com/vinayprograms/courier/core"
)

// Skill is a named capability a model can invoke.
type Skill interface {
	Name() string
	Description() string
	// Parameters returns the JSON schema of the accepted params.
	Parameters() map[string]interface{}
	// Execute runs the skill. A returned error is folded into a failed
	// outcome by the registry.
	Execute(ctx context.Context, args Args) (core.Outcome, error)
}

// Definition describes a skill to a language model.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Caller identifies who a skill is running for.
type Caller struct {
	TaskID string
	UserID string
	ChatID string
}

type callerKey struct{}

// WithCaller attaches the caller identity to ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller attached to ctx.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// schema builds an object JSON schema.
func schema(required []string, props map[string]interface{}) map[string]interface{} {
	s := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, description string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": description}
}
