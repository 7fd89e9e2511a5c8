package skills

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vinayprograms/courier/core"
	apperrors "github.com/vinayprograms/courier/errors"
	"github.com/vinayprograms/courier/logging"
	"github.com/vinayprograms/courier/telemetry"
)

// Registry holds the registered skills. It is populated at wiring time and
// only read afterwards.
type Registry struct {
	skills map[string]Skill
	logger *logging.Logger
	tracer *telemetry.Tracer
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logging.Logger) *Registry {
	return &Registry{
		skills: make(map[string]Skill),
		logger: logging.OrNop(logger).WithComponent("skills"),
		tracer: telemetry.GetTracer(),
	}
}

// SetTracer replaces the tracer used for skill spans.
func (r *Registry) SetTracer(t *telemetry.Tracer) {
	if t != nil {
		r.tracer = t
	}
}

// Register adds a skill. Names must be unique.
func (r *Registry) Register(s Skill) error {
	name := s.Name()
	if name == "" {
		return fmt.Errorf("skill has no name")
	}
	if _, exists := r.skills[name]; exists {
		return fmt.Errorf("skill %q already registered", name)
	}
	r.skills[name] = s
	return nil
}

// MustRegister is Register that panics on error, for static wiring.
func (r *Registry) MustRegister(skills ...Skill) {
	for _, s := range skills {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
}

// Get returns a skill by name.
func (r *Registry) Get(name string) (Skill, bool) {
	s, ok := r.skills[name]
	return s, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.skills[name]
	return ok
}

// Names returns the sorted skill names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.skills))
	for name := range r.skills {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns definitions for all skills, sorted by name.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.skills))
	for _, name := range r.Names() {
		s := r.skills[name]
		defs = append(defs, Definition{
			Name:        s.Name(),
			Description: s.Description(),
			Parameters:  s.Parameters(),
		})
	}
	return defs
}

// Run executes the named skill and always returns an outcome. An unknown
// name fails without invoking anything. Errors and panics raised by the
// skill become failed outcomes.
func (r *Registry) Run(ctx context.Context, name string, params map[string]interface{}) core.Outcome {
	s, ok := r.skills[name]
	if !ok {
		err := apperrors.UnknownSkill(name)
		r.logger.Warn("unknown skill", map[string]interface{}{"skill": name})
		return core.Failed(err.Error())
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	return r.sandboxed(ctx, s, Args(params))
}

func (r *Registry) sandboxed(ctx context.Context, s Skill, args Args) (out core.Outcome) {
	name := s.Name()
	keys := args.Keys()
	start := time.Now()

	r.logger.SkillAudit("before", name, keys, false, 0)
	ctx, span := r.tracer.StartSkillSpan(ctx, name)

	var runErr error
	defer func() {
		if rec := recover(); rec != nil {
			perr := apperrors.RecoverPanic(rec)
			r.logger.Error("skill panicked", map[string]interface{}{
				"skill": name,
				"error": perr.Error(),
			})
			runErr = perr
			out = core.Failed(perr.Error())
		}
		r.logger.SkillAudit("after", name, keys, out.OK, time.Since(start))
		r.tracer.EndSkillSpan(span, telemetry.SkillSpanOptions{
			Skill:  name,
			Params: args,
			OK:     out.OK,
			Result: out.Output,
		}, runErr)
	}()

	res, err := s.Execute(ctx, args)
	if err != nil {
		runErr = err
		return core.Outcome{OK: false, Output: res.Output, Error: err.Error()}
	}
	if !res.OK && res.Error == "" {
		res.Error = "skill failed"
	}
	return res
}
