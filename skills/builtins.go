package skills

import (
	"time"

	"github.com/vinayprograms/courier/logging"
	"github.com/vinayprograms/courier/memory"
	"github.com/vinayprograms/courier/policy"
	"github.com/vinayprograms/courier/state"
)

// Deps are the collaborators of the builtin skills. Skills whose
// collaborator is nil are not registered.
type Deps struct {
	Workspace string
	Policy    *policy.Policy
	Runner    CommandRunner
	Memory    memory.Store
	Todos     state.StateStore
	TodoTTL   time.Duration
	Logger    *logging.Logger
}

// RegisterBuiltins registers every builtin skill enabled by the policy.
func RegisterBuiltins(r *Registry, d Deps) error {
	pol := d.Policy
	if pol == nil {
		pol = policy.New()
	}
	ws := Workspace{Root: d.Workspace, Policy: pol}

	var list []Skill
	list = append(list, &ReadFile{WS: ws}, &WriteFile{WS: ws}, &ListDir{WS: ws}, &Notify{WS: ws})
	if d.Runner != nil {
		list = append(list,
			&Shell{Whitelist: policy.WhitelistFromPolicy(pol, "shell"), Runner: d.Runner, Dir: d.Workspace, Logger: d.Logger},
			&Git{Whitelist: policy.WhitelistFromPolicy(pol, "git"), Runner: d.Runner, Dir: d.Workspace, Logger: d.Logger},
		)
	}
	if d.Memory != nil {
		list = append(list, &MemorySearch{Store: d.Memory}, &Remember{Store: d.Memory})
	}
	if d.Todos != nil {
		list = append(list, &Todo{Store: d.Todos, TTL: d.TodoTTL})
	}

	for _, s := range list {
		if !pol.IsSkillEnabled(s.Name()) {
			continue
		}
		if err := r.Register(s); err != nil {
			return err
		}
	}
	return nil
}
