package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/vinayprograms/courier/core"
	apperrors "github.com/vinayprograms/courier/errors"
	"github.com/vinayprograms/courier/logging"
	"github.com/vinayprograms/courier/policy"
	"github.com/vinayprograms/courier/sandbox"
)

// CommandRunner executes argv or a pipeline under the sandbox.
type CommandRunner interface {
	Run(ctx context.Context, argv []string, opts ...sandbox.Option) sandbox.Result
	RunPipeline(ctx context.Context, stages []sandbox.Stage, opts ...sandbox.Option) sandbox.Result
}

// maxShellTimeout caps the per-call timeout a model may ask for, in seconds.
const maxShellTimeout = 300

// Shell runs whitelisted commands in the sandbox.
type Shell struct {
	Whitelist *policy.Whitelist
	Runner    CommandRunner
	Dir       string
	Logger    *logging.Logger
}

func (s *Shell) Name() string { return "shell" }

func (s *Shell) Description() string {
	return "Run a whitelisted command line in the workspace. Pipes, &&, ||, ; and file redirects work; " +
		"command substitution, variables and background jobs do not. Returns exit_code, stdout and stderr."
}

func (s *Shell) Parameters() map[string]interface{} {
	return schema([]string{"command"}, map[string]interface{}{
		"command": prop("string", "Command line to run"),
		"timeout": prop("integer", "Seconds before the command is killed (at most 300)"),
	})
}

func (s *Shell) Execute(ctx context.Context, args Args) (core.Outcome, error) {
	command, err := args.String("command")
	if err != nil {
		return core.Outcome{}, err
	}

	if ok, reason := s.Whitelist.IsAllowed(command); !ok {
		logging.OrNop(s.Logger).SecurityDecision(command, "deny", reason)
		return core.Outcome{}, apperrors.Denied(reason)
	}

	line, err := policy.ParseLine(command)
	if err != nil {
		return core.Outcome{}, apperrors.New(apperrors.ErrCodeInvalidInput, err.Error())
	}

	opts := []sandbox.Option{sandbox.WithDir(s.Dir)}
	if secs := args.IntOr("timeout", 0); secs > 0 {
		opts = append(opts, sandbox.WithTimeout(time.Duration(min(secs, maxShellTimeout))*time.Second))
	}
	return execOutcome(s.runLine(ctx, line, opts)), nil
}

// runLine runs the pipelines of a line in order. "&&" and "||" skip a
// pipeline depending on the last exit code, as a shell would. The combined
// result has the exit code of the last pipeline that ran.
func (s *Shell) runLine(ctx context.Context, line []policy.Pipeline, opts []sandbox.Option) sandbox.Result {
	var (
		res            sandbox.Result
		stdout, stderr strings.Builder
	)
	for i, p := range line {
		if i > 0 {
			if res.TimedOut || ctx.Err() != nil {
				break
			}
			if (p.Op == "&&" && res.ExitCode != 0) || (p.Op == "||" && res.ExitCode == 0) {
				continue
			}
		}
		res = s.Runner.RunPipeline(ctx, s.stages(p), opts...)
		stdout.WriteString(res.Stdout)
		stderr.WriteString(res.Stderr)
	}
	res.Stdout, res.Stderr = stdout.String(), stderr.String()
	return res
}

func (s *Shell) stages(p policy.Pipeline) []sandbox.Stage {
	stages := make([]sandbox.Stage, len(p.Commands))
	for i, c := range p.Commands {
		st := sandbox.Stage{Argv: expandGlobs(s.Dir, c)}
		for _, r := range c.Redirects {
			switch r.Op {
			case "<":
				st.Stdin = r.Target
			case ">", ">>":
				st.Stdout = sandbox.Redirect{Path: r.Target, Append: r.Op == ">>"}
			case "2>", "2>>":
				st.Stderr = sandbox.Redirect{Path: r.Target, Append: r.Op == "2>>"}
			case "2>&1":
				st.Stderr = sandbox.Redirect{ToStdout: true}
			}
		}
		stages[i] = st
	}
	return stages
}

// expandGlobs replaces unquoted patterns with the matching paths under dir,
// sorted. A pattern without matches is passed through unchanged.
func expandGlobs(dir string, c policy.Command) []string {
	if len(c.Globs) == 0 {
		return c.Argv
	}
	pattern := make(map[int]bool, len(c.Globs))
	for _, i := range c.Globs {
		pattern[i] = true
	}

	argv := make([]string, 0, len(c.Argv))
	for i, arg := range c.Argv {
		if !pattern[i] || i == 0 {
			argv = append(argv, arg)
			continue
		}
		abs := filepath.IsAbs(arg)
		full := arg
		if !abs {
			full = filepath.Join(dir, arg)
		}
		matches, err := filepath.Glob(full)
		if err != nil || len(matches) == 0 {
			argv = append(argv, arg)
			continue
		}
		for _, m := range matches {
			if !abs {
				if rel, err := filepath.Rel(dir, m); err == nil {
					m = rel
				}
			}
			argv = append(argv, m)
		}
	}
	return argv
}

// execOutcome renders a sandbox result as {exit_code, stdout, stderr}.
// Only exit code 0 is a success.
func execOutcome(res sandbox.Result) core.Outcome {
	data, err := json.Marshal(res)
	if err != nil {
		return core.Failed(err.Error())
	}
	if res.ExitCode != 0 {
		msg := fmt.Sprintf("exit code %d", res.ExitCode)
		if res.ExitCode < 0 {
			msg = strings.TrimSpace(lastLine(res.Stderr))
		}
		return core.Outcome{OK: false, Output: string(data), Error: msg}
	}
	return core.Succeeded(string(data))
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
