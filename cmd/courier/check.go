package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vinayprograms/courier/config"
	"github.com/vinayprograms/courier/memory"
	"github.com/vinayprograms/courier/orchestrator"
	"github.com/vinayprograms/courier/policy"
	"github.com/vinayprograms/courier/sandbox"
	"github.com/vinayprograms/courier/skills"
	"github.com/vinayprograms/courier/state"
)

// Run prints the effective setup and fails when anything is unusable.
func (c *CheckCmd) Run(g *Globals) error {
	cfg, _, err := g.load()
	if err != nil {
		return err
	}
	if problems := check(cfg, os.Stdout, c.Commands...); len(problems) > 0 {
		return fmt.Errorf("%d problem(s):\n  %s", len(problems), strings.Join(problems, "\n  "))
	}
	fmt.Println("ok")
	return nil
}

// check reports the effective configuration to w and returns problems.
// Each of commands is judged against the shell whitelist.
func check(cfg *config.Config, w io.Writer, commands ...string) []string {
	var problems []string

	pol := policy.New()
	if cfg.Policy.File != "" {
		p, err := policy.LoadFile(cfg.Policy.File)
		if err != nil {
			problems = append(problems, fmt.Sprintf("policy: %v", err))
		} else {
			pol = p
		}
	}

	ws := pol.Workspace
	if ws == "" {
		ws = cfg.Sandbox.Workspace
	}
	ws, _ = filepath.Abs(config.ExpandHome(ws))
	if info, err := os.Stat(ws); err != nil || !info.IsDir() {
		problems = append(problems, fmt.Sprintf("workspace %s is not a directory", ws))
	}

	llmCfg := cfg.LLM.ProviderConfig()
	if llmCfg.APIKey == "" && llmCfg.Provider != "" {
		env := cfg.LLM.APIKeyEnv
		if env == "" {
			env = config.DefaultAPIKeyEnv(llmCfg.Provider)
		}
		problems = append(problems, fmt.Sprintf("llm: no API key (set %s)", env))
	} else if err := llmCfg.Validate(); err != nil {
		problems = append(problems, fmt.Sprintf("llm: %v", err))
	}

	// register against throwaway stores to see what the policy enables
	todos := state.NewMemoryStore()
	defer todos.Close()
	reg := skills.NewRegistry(nil)
	err := skills.RegisterBuiltins(reg, skills.Deps{
		Workspace: ws,
		Policy:    pol,
		Runner:    sandbox.NewRunner(sandbox.DefaultConfig(), nil),
		Memory:    memory.NewInMemoryStore(),
		Todos:     todos,
	})
	if err != nil {
		problems = append(problems, fmt.Sprintf("skills: %v", err))
	}

	bound := fmt.Sprint(orchestrator.Config{
		MaxIterations: cfg.Orchestrator.MaxIterations,
		Autonomous:    cfg.Orchestrator.Autonomous,
	}.Bound())
	if cfg.Orchestrator.Autonomous {
		bound += " (autonomous)"
	}
	fmt.Fprintf(w, "workspace:  %s\n", ws)
	fmt.Fprintf(w, "llm:        %s %s\n", llmCfg.Provider, llmCfg.Model)
	if path := cfg.CredentialsPath(); path != "" {
		fmt.Fprintf(w, "secrets:    %s\n", path)
	}
	fmt.Fprintf(w, "bus:        %s\n", cfg.Bus.Backend)
	fmt.Fprintf(w, "store:      %s (ttl %s)\n", cfg.Store.Backend, cfg.TaskTTL())
	fmt.Fprintf(w, "memory:     %s\n", cfg.Memory.Backend)
	fmt.Fprintf(w, "iterations: %s\n", bound)
	fmt.Fprintf(w, "network:    %v\n", cfg.Sandbox.Network)
	fmt.Fprintf(w, "skills:     %s\n", strings.Join(reg.Names(), ", "))

	wl := policy.WhitelistFromPolicy(pol, "shell")
	for _, cmd := range commands {
		if ok, reason := wl.IsAllowed(cmd); ok {
			fmt.Fprintf(w, "allow  %s\n", cmd)
		} else {
			fmt.Fprintf(w, "deny   %s: %s\n", cmd, reason)
		}
	}
	return problems
}
