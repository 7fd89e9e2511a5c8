package skills

import (
	"context"
	"fmt"
	"strings"

	"github.com/vinayprograms/courier/core"
	apperrors "github.com/vinayprograms/courier/errors"
	"github.com/vinayprograms/courier/logging"
	"github.com/vinayprograms/courier/policy"
	"github.com/vinayprograms/courier/sandbox"
)

// ReadOnlyGitCommands are the git subcommands the git skill may run.
var ReadOnlyGitCommands = []string{
	"status", "log", "diff", "show", "branch", "rev-parse", "ls-files",
}

// flags that make read-only subcommands write files or run programs
var gitForbiddenFlags = []string{"--output", "--ext-diff", "--exec", "--upload-pack"}

// Git runs read-only git subcommands in the sandbox.
type Git struct {
	Whitelist *policy.Whitelist
	Runner    CommandRunner
	Dir       string
	Logger    *logging.Logger
}

func (s *Git) Name() string { return "git" }

func (s *Git) Description() string {
	return "Run a read-only git command (" + strings.Join(ReadOnlyGitCommands, ", ") + ") in the workspace."
}

func (s *Git) Parameters() map[string]interface{} {
	return schema([]string{"subcommand"}, map[string]interface{}{
		"subcommand": prop("string", "Git subcommand"),
		"args": map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "string"},
			"description": "Arguments for the subcommand",
		},
	})
}

func (s *Git) Execute(ctx context.Context, args Args) (core.Outcome, error) {
	sub, err := args.String("subcommand")
	if err != nil {
		return core.Outcome{}, err
	}
	extra := args.StringsOr("args", nil)

	if err := checkGit(sub, extra); err != nil {
		logging.OrNop(s.Logger).SecurityDecision("git "+sub, "deny", err.Error())
		return core.Outcome{}, err
	}

	argv := append([]string{"git", sub}, extra...)
	line := quoteLine(argv)
	if ok, reason := s.Whitelist.IsAllowed(line); !ok {
		logging.OrNop(s.Logger).SecurityDecision(line, "deny", reason)
		return core.Outcome{}, apperrors.Denied(reason)
	}

	res := s.Runner.Run(ctx, argv,
		sandbox.WithDir(s.Dir),
		sandbox.WithNetwork(false),
		sandbox.WithEnv(map[string]string{"GIT_PAGER": "cat", "GIT_TERMINAL_PROMPT": "0"}),
	)
	return execOutcome(res), nil
}

func checkGit(sub string, args []string) error {
	allowed := false
	for _, c := range ReadOnlyGitCommands {
		if c == sub {
			allowed = true
			break
		}
	}
	if !allowed {
		return apperrors.Denied(fmt.Sprintf("git subcommand not allowed: %s", sub))
	}
	// branch takes create/delete flags
	if sub == "branch" {
		for _, a := range args {
			if !strings.HasPrefix(a, "-") {
				return apperrors.Denied("git branch may only list branches")
			}
			switch a {
			case "-d", "-D", "-m", "-M", "-c", "-C", "--delete", "--move", "--copy", "--set-upstream-to", "-u":
				return apperrors.Denied("git branch may only list branches")
			}
		}
	}
	for _, a := range args {
		for _, f := range gitForbiddenFlags {
			if a == f || strings.HasPrefix(a, f+"=") {
				return apperrors.Denied(fmt.Sprintf("git flag not allowed: %s", f))
			}
		}
	}
	return nil
}

// quoteLine renders argv as a single shell-quoted line.
func quoteLine(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		if a != "" && !strings.ContainsAny(a, " \t\n'\"\\$`|&;<>()*?[]#~") {
			parts[i] = a
			continue
		}
		parts[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return strings.Join(parts, " ")
}
