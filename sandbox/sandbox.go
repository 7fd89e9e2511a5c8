// Package sandbox runs one external command under resource limits.
//
// Limits are applied before the target starts running: the runner re-executes
// a helper binary (by default the running executable, through courier's
// hidden sandbox-exec command) which sets RLIMIT_CPU and RLIMIT_AS on itself
// and then replaces its image with the target. Without a helper the limits
// are applied to the child right after it is spawned. Pipelines are run as
// chained processes; no shell is involved. Network isolation is best effort: proxy variables are pointed at
// a dead local port, no network namespace is created.
//
// Run never returns an error. Spawn failures and timeouts are reported as a
// Result with a negative exit code and an explanatory Stderr.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vinayprograms/courier/logging"
)

// FailedExitCode is the exit code reported when the process could not be
// spawned or was killed on timeout.
const FailedExitCode = -1

// Defaults.
const (
	DefaultCPUSeconds = 10
	DefaultMemoryMB   = 512
	DefaultOutputCap  = 256 * 1024

	// timeoutGrace is added to the CPU limit to derive the wall-clock timeout.
	timeoutGrace = 2 * time.Second
)

// BlackholeProxy is the proxy URL installed when network access is disabled.
const BlackholeProxy = "http://127.0.0.1:9"

var proxyVars = []string{
	"HTTP_PROXY", "http_proxy",
	"HTTPS_PROXY", "https_proxy",
	"ALL_PROXY", "all_proxy",
	"FTP_PROXY", "ftp_proxy",
}

var noProxyVars = []string{"NO_PROXY", "no_proxy"}

// Config holds the sandbox options.
type Config struct {
	Dir        string            // working directory
	Env        map[string]string // environment overrides
	CPUSeconds int
	MemoryMB   int
	Network    bool
	Timeout    time.Duration // wall-clock override; zero derives it from CPUSeconds
	OutputCap  int           // bytes kept per stream

	// Helper is the path of an executable accepting
	// "sandbox-exec --cpu N --mem M -- argv...". Empty falls back to
	// applying the limits after the process starts.
	Helper string
}

// DefaultConfig returns a config with conservative limits and no network,
// using the running executable as the helper.
func DefaultConfig() Config {
	return Config{
		CPUSeconds: DefaultCPUSeconds,
		MemoryMB:   DefaultMemoryMB,
		OutputCap:  DefaultOutputCap,
		Helper:     SelfHelper(),
	}
}

// WallTimeout returns the wall-clock timeout for c.
func (c Config) WallTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	cpu := c.CPUSeconds
	if cpu <= 0 {
		cpu = DefaultCPUSeconds
	}
	return time.Duration(cpu)*time.Second + timeoutGrace
}

// Result is the outcome of one sandboxed execution.
type Result struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	TimedOut bool          `json:"timed_out,omitempty"`
	Duration time.Duration `json:"-"`
}

// OK reports a zero exit code.
func (r Result) OK() bool { return r.ExitCode == 0 }

// Option adjusts the config for a single run.
type Option func(*Config)

// WithDir overrides the working directory.
func WithDir(dir string) Option { return func(c *Config) { c.Dir = dir } }

// WithEnv adds environment overrides.
func WithEnv(env map[string]string) Option {
	return func(c *Config) {
		merged := make(map[string]string, len(c.Env)+len(env))
		for k, v := range c.Env {
			merged[k] = v
		}
		for k, v := range env {
			merged[k] = v
		}
		c.Env = merged
	}
}

// WithNetwork toggles network access.
func WithNetwork(enabled bool) Option { return func(c *Config) { c.Network = enabled } }

// WithTimeout overrides the wall-clock timeout.
func WithTimeout(d time.Duration) Option { return func(c *Config) { c.Timeout = d } }

// WithLimits overrides the CPU and memory limits.
func WithLimits(cpuSeconds, memoryMB int) Option {
	return func(c *Config) {
		c.CPUSeconds = cpuSeconds
		c.MemoryMB = memoryMB
	}
}

// Stage is one process of a pipeline. Relative redirect paths are resolved
// against the working directory.
type Stage struct {
	Argv   []string
	Stdin  string // file read as standard input
	Stdout Redirect
	Stderr Redirect
}

// Redirect sends a stream to a file instead of the pipeline's buffers.
type Redirect struct {
	Path   string
	Append bool
	// ToStdout joins stderr to the stage's standard output.
	ToStdout bool
}

// Runner executes commands with a base config.
type Runner struct {
	cfg    Config
	logger *logging.Logger
}

// NewRunner creates a runner. Without a helper the limits are applied to
// each child after it starts, which is logged once here.
func NewRunner(cfg Config, logger *logging.Logger) *Runner {
	if cfg.OutputCap <= 0 {
		cfg.OutputCap = DefaultOutputCap
	}
	r := &Runner{cfg: cfg, logger: logging.OrNop(logger).WithComponent("sandbox")}
	if cfg.Helper == "" {
		r.logger.Warn("no sandbox helper, limits are applied after the process starts", nil)
	}
	return r
}

// Config returns the base config.
func (r *Runner) Config() Config { return r.cfg }

// Run executes argv and waits for it to finish.
func (r *Runner) Run(ctx context.Context, argv []string, opts ...Option) Result {
	return r.RunPipeline(ctx, []Stage{{Argv: argv}}, opts...)
}

// RunPipeline starts every stage with the standard output of each feeding
// the standard input of the next, and waits for all of them. The result
// carries the exit code and standard output of the last stage and the
// standard error of all stages.
func (r *Runner) RunPipeline(ctx context.Context, stages []Stage, opts ...Option) Result {
	cfg := r.cfg
	for _, opt := range opts {
		opt(&cfg)
	}

	start := time.Now()
	res := r.run(ctx, cfg, stages)
	res.Duration = time.Since(start)

	r.logger.SandboxExec(describe(stages), res.ExitCode, res.Duration)
	return res
}

func describe(stages []Stage) string {
	parts := make([]string, len(stages))
	for i, st := range stages {
		parts[i] = strings.Join(st.Argv, " ")
	}
	return strings.Join(parts, " | ")
}

func (r *Runner) run(ctx context.Context, cfg Config, stages []Stage) Result {
	if len(stages) == 0 {
		return failed("sandbox: empty command")
	}
	for _, st := range stages {
		if len(st.Argv) == 0 {
			return failed("sandbox: empty command")
		}
		if err := lookPath(cfg.Dir, st.Argv[0]); err != nil {
			return failed(fmt.Sprintf("sandbox: spawn failed: %v", err))
		}
	}

	timeout := cfg.WallTimeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout := &cappedBuffer{limit: cfg.OutputCap}
	stderr := &cappedBuffer{limit: cfg.OutputCap}
	env := buildEnv(cfg)

	// parent copies of pipe ends and redirect files, closed once every
	// stage has started
	var files []*os.File
	closeFiles := func() {
		for _, f := range files {
			f.Close()
		}
		files = nil
	}
	defer closeFiles()

	cmds := make([]*exec.Cmd, len(stages))
	var next *os.File // read end feeding the following stage
	for i, st := range stages {
		cmd := r.command(ctx, cfg, st.Argv)
		cmd.Env = env

		if next != nil {
			cmd.Stdin = next
			next = nil
		}
		if st.Stdin != "" {
			f, err := os.Open(resolve(cfg.Dir, st.Stdin))
			if err != nil {
				return failed(fmt.Sprintf("sandbox: %v", err))
			}
			files = append(files, f)
			cmd.Stdin = f
		}

		switch {
		case st.Stdout.Path != "":
			w, err := openTarget(cfg.Dir, st.Stdout, stdout, stderr)
			if err != nil {
				return failed(fmt.Sprintf("sandbox: %v", err))
			}
			if f, ok := w.(*os.File); ok {
				files = append(files, f)
			}
			cmd.Stdout = w
		case i < len(stages)-1:
			pr, pw, err := os.Pipe()
			if err != nil {
				return failed(fmt.Sprintf("sandbox: %v", err))
			}
			files = append(files, pr, pw)
			cmd.Stdout = pw
			next = pr
		default:
			cmd.Stdout = stdout
		}

		switch {
		case st.Stderr.ToStdout:
			cmd.Stderr = cmd.Stdout
		case st.Stderr.Path != "":
			w, err := openTarget(cfg.Dir, st.Stderr, stdout, stderr)
			if err != nil {
				return failed(fmt.Sprintf("sandbox: %v", err))
			}
			if f, ok := w.(*os.File); ok {
				files = append(files, f)
			}
			cmd.Stderr = w
		default:
			cmd.Stderr = stderr
		}
		cmds[i] = cmd
	}

	var startErr error
	var started []*exec.Cmd
	for _, cmd := range cmds {
		if err := cmd.Start(); err != nil {
			startErr = err
			cancel()
			break
		}
		started = append(started, cmd)
		if cfg.Helper == "" {
			if err := applyLimits(cmd.Process.Pid, cfg.CPUSeconds, cfg.MemoryMB); err != nil {
				r.logger.Warn("rlimit not applied", map[string]interface{}{
					"pid":   cmd.Process.Pid,
					"error": err.Error(),
				})
			}
		}
	}
	closeFiles()

	var err error
	for _, cmd := range started {
		err = cmd.Wait()
	}
	if startErr != nil {
		return failed(fmt.Sprintf("sandbox: spawn failed: %v", startErr))
	}
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.ExitCode = FailedExitCode
		res.TimedOut = true
		res.Stderr = appendLine(res.Stderr, fmt.Sprintf("sandbox: timed out after %s", timeout))
		return res
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			if res.ExitCode < 0 {
				// killed by a signal, e.g. SIGXCPU or SIGKILL on RLIMIT_CPU
				res.ExitCode = FailedExitCode
				res.Stderr = appendLine(res.Stderr, "sandbox: "+exitErr.String())
			}
			return res
		}
		res.ExitCode = FailedExitCode
		res.Stderr = appendLine(res.Stderr, fmt.Sprintf("sandbox: %v", err))
	}
	return res
}

// command builds the process for argv, through the helper when one is set.
func (r *Runner) command(ctx context.Context, cfg Config, argv []string) *exec.Cmd {
	name, args := argv[0], argv[1:]
	if cfg.Helper != "" {
		name, args = cfg.Helper, append(helperArgs(cfg), argv...)
	}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = cfg.Dir
	prepare(cmd)
	return cmd
}

// lookPath reports a missing program before anything is spawned.
func lookPath(dir, name string) error {
	if strings.Contains(name, "/") && !filepath.IsAbs(name) {
		name = filepath.Join(dir, name)
	}
	_, err := exec.LookPath(name)
	return err
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// openTarget opens a redirect target. /dev/stdout and /dev/stderr name the
// pipeline's own buffers.
func openTarget(dir string, rd Redirect, stdout, stderr io.Writer) (io.Writer, error) {
	switch rd.Path {
	case "/dev/stdout":
		return stdout, nil
	case "/dev/stderr":
		return stderr, nil
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if rd.Append {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	return os.OpenFile(resolve(dir, rd.Path), flags, 0o644)
}

// SelfHelper returns the running executable as the helper path, or "" when
// it cannot be determined or the platform has no rlimits.
func SelfHelper() string {
	if !helperSupported {
		return ""
	}
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return exe
}

func helperArgs(cfg Config) []string {
	return []string{
		"sandbox-exec",
		"--cpu", strconv.Itoa(cfg.CPUSeconds),
		"--mem", strconv.Itoa(cfg.MemoryMB),
		"--",
	}
}

// buildEnv returns a minimal environment: PATH from the host, HOME set to
// the working directory, overrides, then proxy neutralisation when the
// network is disabled.
func buildEnv(cfg Config) []string {
	env := map[string]string{
		"PATH": os.Getenv("PATH"),
		"LANG": "C.UTF-8",
	}
	if cfg.Dir != "" {
		env["HOME"] = cfg.Dir
	}
	for k, v := range cfg.Env {
		env[k] = v
	}
	if !cfg.Network {
		for _, k := range proxyVars {
			env[k] = BlackholeProxy
		}
		for _, k := range noProxyVars {
			env[k] = ""
		}
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func failed(msg string) Result {
	return Result{ExitCode: FailedExitCode, Stderr: msg}
}

func appendLine(s, line string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s + line
	}
	return s + "\n" + line
}

// cappedBuffer keeps the first limit bytes written and discards the rest.
// Stages of a pipeline share one for stderr.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}
