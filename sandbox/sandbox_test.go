//go:build linux

package sandbox

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestMain lets the test binary serve as the sandbox helper, the way the
// courier binary does through its sandbox-exec command.
func TestMain(m *testing.M) {
	if len(os.Args) > 1 && os.Args[1] == "sandbox-exec" {
		fs := flag.NewFlagSet("sandbox-exec", flag.ExitOnError)
		cpu := fs.Int("cpu", 0, "")
		mem := fs.Int("mem", 0, "")
		fs.Parse(os.Args[2:])
		err := ExecLimited(*cpu, *mem, fs.Args())
		fmt.Fprintf(os.Stderr, "sandbox-exec: %v\n", err)
		os.Exit(127)
	}
	os.Exit(m.Run())
}

func newTestRunner(t *testing.T, mutate func(*Config)) *Runner {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Dir = t.TempDir()
	if mutate != nil {
		mutate(&cfg)
	}
	return NewRunner(cfg, nil)
}

// --- Unit Tests ---

func TestRunCapturesOutput(t *testing.T) {
	r := newTestRunner(t, nil)
	res := r.Run(context.Background(), []string{"echo", "hello"})
	if res.ExitCode != 0 {
		t.Fatalf("exit = %d, stderr = %q", res.ExitCode, res.Stderr)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if !res.OK() {
		t.Error("expected OK")
	}
}

func TestRunNonZeroExit(t *testing.T) {
	r := newTestRunner(t, nil)
	res := r.Run(context.Background(), []string{"sh", "-c", "echo oops >&2; exit 3"})
	if res.ExitCode != 3 {
		t.Fatalf("exit = %d, want 3", res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "oops") {
		t.Errorf("stderr = %q", res.Stderr)
	}
}

func TestRunSpawnFailure(t *testing.T) {
	r := newTestRunner(t, nil)
	res := r.Run(context.Background(), []string{"/definitely/not/a/binary"})
	if res.ExitCode >= 0 {
		t.Fatalf("exit = %d, want negative", res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "spawn failed") {
		t.Errorf("stderr = %q", res.Stderr)
	}
}

func TestRunEmptyCommand(t *testing.T) {
	r := newTestRunner(t, nil)
	res := r.Run(context.Background(), nil)
	if res.ExitCode != FailedExitCode {
		t.Fatalf("exit = %d", res.ExitCode)
	}
}

func TestRunTimeout(t *testing.T) {
	r := newTestRunner(t, func(c *Config) { c.Timeout = 200 * time.Millisecond })
	start := time.Now()
	res := r.Run(context.Background(), []string{"sleep", "5"})
	if res.ExitCode != FailedExitCode {
		t.Fatalf("exit = %d, want %d", res.ExitCode, FailedExitCode)
	}
	if !res.TimedOut {
		t.Error("expected TimedOut")
	}
	if !strings.Contains(res.Stderr, "timed out") {
		t.Errorf("stderr = %q", res.Stderr)
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("timeout not enforced, took %s", time.Since(start))
	}
}

func TestRunNetworkDisabledNeutralisesProxies(t *testing.T) {
	r := newTestRunner(t, func(c *Config) {
		c.Env = map[string]string{"HTTPS_PROXY": "http://corp:3128", "NO_PROXY": "*"}
	})
	res := r.Run(context.Background(), []string{"env"})
	if res.ExitCode != 0 {
		t.Fatalf("exit = %d, stderr = %q", res.ExitCode, res.Stderr)
	}
	for _, want := range []string{
		"HTTPS_PROXY=" + BlackholeProxy,
		"http_proxy=" + BlackholeProxy,
		"ALL_PROXY=" + BlackholeProxy,
	} {
		if !strings.Contains(res.Stdout, want) {
			t.Errorf("env missing %q:\n%s", want, res.Stdout)
		}
	}
	if strings.Contains(res.Stdout, "NO_PROXY=*") {
		t.Error("NO_PROXY should be cleared")
	}
}

func TestRunNetworkEnabledKeepsEnv(t *testing.T) {
	r := newTestRunner(t, func(c *Config) {
		c.Network = true
		c.Env = map[string]string{"HTTPS_PROXY": "http://corp:3128"}
	})
	res := r.Run(context.Background(), []string{"env"})
	if !strings.Contains(res.Stdout, "HTTPS_PROXY=http://corp:3128") {
		t.Errorf("override lost:\n%s", res.Stdout)
	}
	if strings.Contains(res.Stdout, BlackholeProxy) {
		t.Error("proxies should not be neutralised with network enabled")
	}
}

func TestRunOptionsOverrideBase(t *testing.T) {
	r := newTestRunner(t, nil)
	dir := t.TempDir()
	res := r.Run(context.Background(), []string{"pwd"}, WithDir(dir), WithEnv(map[string]string{"X": "1"}))
	if strings.TrimSpace(res.Stdout) != dir {
		t.Errorf("pwd = %q, want %q", res.Stdout, dir)
	}
	if len(r.Config().Env) != 0 {
		t.Error("per-run options must not mutate the base config")
	}
}

func TestRunOptionsNetworkAndLimits(t *testing.T) {
	r := newTestRunner(t, func(c *Config) { c.Network = true })
	res := r.Run(context.Background(), []string{"env"}, WithNetwork(false), WithLimits(3, 128))
	if !strings.Contains(res.Stdout, BlackholeProxy) {
		t.Errorf("per-run WithNetwork(false) should neutralise proxies:\n%s", res.Stdout)
	}
	if c := r.Config(); !c.Network || c.CPUSeconds == 3 {
		t.Error("per-run options must not mutate the base config")
	}
}

func TestWallTimeout(t *testing.T) {
	tests := []struct {
		cfg  Config
		want time.Duration
	}{
		{Config{CPUSeconds: 5}, 7 * time.Second},
		{Config{}, time.Duration(DefaultCPUSeconds)*time.Second + timeoutGrace},
		{Config{CPUSeconds: 5, Timeout: time.Second}, time.Second},
	}
	for _, tt := range tests {
		if got := tt.cfg.WallTimeout(); got != tt.want {
			t.Errorf("WallTimeout(%+v) = %s, want %s", tt.cfg, got, tt.want)
		}
	}
}

func TestCappedBuffer(t *testing.T) {
	b := &cappedBuffer{limit: 4}
	b.Write([]byte("abc"))
	b.Write([]byte("defg"))
	if got := b.String(); got != "abcd\n[output truncated]" {
		t.Errorf("got %q", got)
	}
}

// --- Limits ---

// limitsOf returns the soft limit column of a /proc/self/limits row.
func limitsOf(t *testing.T, limits, row string) string {
	t.Helper()
	for _, line := range strings.Split(limits, "\n") {
		if strings.HasPrefix(line, row) {
			fields := strings.Fields(strings.TrimPrefix(line, row))
			if len(fields) > 0 {
				return fields[0]
			}
		}
	}
	t.Fatalf("no %q row in:\n%s", row, limits)
	return ""
}

func TestHelperIsDefault(t *testing.T) {
	exe, err := os.Executable()
	if err != nil {
		t.Skip(err)
	}
	if got := DefaultConfig().Helper; got != exe {
		t.Errorf("Helper = %q, want %q", got, exe)
	}
}

func TestRunLimitsInPlaceAtStart(t *testing.T) {
	r := newTestRunner(t, nil)
	res := r.Run(context.Background(), []string{"cat", "/proc/self/limits"}, WithLimits(3, 256))
	if res.ExitCode != 0 {
		t.Fatalf("exit = %d, stderr = %q", res.ExitCode, res.Stderr)
	}
	if got := limitsOf(t, res.Stdout, "Max cpu time"); got != "3" {
		t.Errorf("cpu limit = %s, want 3", got)
	}
	if got := limitsOf(t, res.Stdout, "Max address space"); got != fmt.Sprint(256*1024*1024) {
		t.Errorf("address space limit = %s, want %d", got, 256*1024*1024)
	}
}

func TestRunCPUBurnerIsKilled(t *testing.T) {
	r := newTestRunner(t, func(c *Config) { c.Timeout = 20 * time.Second })
	res := r.Run(context.Background(), []string{"sh", "-c", "while :; do :; done"}, WithLimits(1, 0))
	if res.ExitCode >= 0 {
		t.Fatalf("exit = %d, want negative", res.ExitCode)
	}
	if res.TimedOut {
		t.Error("the CPU limit should stop the process before the wall-clock timeout")
	}
	if !strings.Contains(res.Stderr, "signal") {
		t.Errorf("stderr = %q", res.Stderr)
	}
}

func TestRunMemoryLimitFailsAllocation(t *testing.T) {
	r := newTestRunner(t, nil)
	script := func(n int) []string {
		return []string{"sh", "-c", fmt.Sprintf(`x=$(head -c %d /dev/zero | tr '\0' a); echo ${#x}`, n)}
	}
	opts := []Option{WithLimits(10, 64), WithEnv(map[string]string{"LANG": "C"})}

	small := r.Run(context.Background(), script(1000), opts...)
	if strings.TrimSpace(small.Stdout) != "1000" {
		t.Fatalf("small allocation: exit = %d, stdout = %q, stderr = %q", small.ExitCode, small.Stdout, small.Stderr)
	}

	big := r.Run(context.Background(), script(200*1024*1024), opts...)
	if strings.TrimSpace(big.Stdout) == fmt.Sprint(200*1024*1024) {
		t.Fatal("200MB allocation succeeded under a 64MB address space limit")
	}
	if big.OK() {
		t.Errorf("exit = 0, stderr = %q", big.Stderr)
	}
}

func TestRunWithoutHelperStillLimits(t *testing.T) {
	r := newTestRunner(t, func(c *Config) {
		c.Helper = ""
		c.Timeout = 20 * time.Second
	})
	res := r.Run(context.Background(), []string{"sh", "-c", "while :; do :; done"}, WithLimits(1, 0))
	if res.ExitCode >= 0 || res.TimedOut {
		t.Errorf("exit = %d, timed out = %v", res.ExitCode, res.TimedOut)
	}
}

// --- Pipelines ---

func TestRunPipelineChainsStages(t *testing.T) {
	r := newTestRunner(t, nil)
	res := r.RunPipeline(context.Background(), []Stage{
		{Argv: []string{"printf", "b\\na\\nb\\n"}},
		{Argv: []string{"sort", "-u"}},
		{Argv: []string{"wc", "-l"}},
	})
	if res.ExitCode != 0 {
		t.Fatalf("exit = %d, stderr = %q", res.ExitCode, res.Stderr)
	}
	if strings.TrimSpace(res.Stdout) != "2" {
		t.Errorf("stdout = %q, want 2", res.Stdout)
	}
}

func TestRunPipelineExitCodeOfLastStage(t *testing.T) {
	r := newTestRunner(t, nil)
	res := r.RunPipeline(context.Background(), []Stage{
		{Argv: []string{"sh", "-c", "echo first >&2; exit 4"}},
		{Argv: []string{"cat"}},
	})
	if res.ExitCode != 0 {
		t.Errorf("exit = %d, want the last stage's 0", res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "first") {
		t.Errorf("stderr of every stage should be kept, got %q", res.Stderr)
	}
}

func TestRunPipelineRedirects(t *testing.T) {
	r := newTestRunner(t, nil)
	dir := r.Config().Dir
	ctx := context.Background()

	res := r.RunPipeline(ctx, []Stage{{Argv: []string{"echo", "one"}, Stdout: Redirect{Path: "out.txt"}}})
	if res.ExitCode != 0 || res.Stdout != "" {
		t.Fatalf("res = %+v", res)
	}
	r.RunPipeline(ctx, []Stage{{Argv: []string{"echo", "two"}, Stdout: Redirect{Path: "out.txt", Append: true}}})
	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	if err != nil || string(data) != "one\ntwo\n" {
		t.Fatalf("out.txt = %q, %v", data, err)
	}

	res = r.RunPipeline(ctx, []Stage{{Argv: []string{"wc", "-l"}, Stdin: "out.txt"}})
	if strings.TrimSpace(res.Stdout) != "2" {
		t.Errorf("stdin redirect: stdout = %q", res.Stdout)
	}

	res = r.RunPipeline(ctx, []Stage{{
		Argv:   []string{"sh", "-c", "echo oops >&2"},
		Stderr: Redirect{ToStdout: true},
	}})
	if strings.TrimSpace(res.Stdout) != "oops" || res.Stderr != "" {
		t.Errorf("2>&1: res = %+v", res)
	}

	res = r.RunPipeline(ctx, []Stage{{
		Argv:   []string{"ls", "missing"},
		Stderr: Redirect{Path: "/dev/null"},
	}})
	if res.Stderr != "" || res.OK() {
		t.Errorf("2>/dev/null: res = %+v", res)
	}
}

func TestRunPipelineMissingInput(t *testing.T) {
	r := newTestRunner(t, nil)
	res := r.RunPipeline(context.Background(), []Stage{{Argv: []string{"cat"}, Stdin: "nope.txt"}})
	if res.ExitCode != FailedExitCode || !strings.Contains(res.Stderr, "nope.txt") {
		t.Errorf("res = %+v", res)
	}
}

func TestRunPipelineMissingProgram(t *testing.T) {
	r := newTestRunner(t, nil)
	res := r.RunPipeline(context.Background(), []Stage{
		{Argv: []string{"echo", "x"}},
		{Argv: []string{"no-such-program-here"}},
	})
	if res.ExitCode != FailedExitCode || !strings.Contains(res.Stderr, "spawn failed") {
		t.Errorf("res = %+v", res)
	}
}
