//go:build linux

package sandbox

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const helperSupported = true

// prepare puts the child in its own process group so a timeout kills
// everything it spawned.
func prepare(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = time.Second
}

func rlimits(cpuSeconds, memoryMB int) map[int]*unix.Rlimit {
	limits := make(map[int]*unix.Rlimit, 2)
	if cpuSeconds > 0 {
		cpu := uint64(cpuSeconds)
		// soft limit raises SIGXCPU, hard limit one second later SIGKILL
		limits[unix.RLIMIT_CPU] = &unix.Rlimit{Cur: cpu, Max: cpu + 1}
	}
	if memoryMB > 0 {
		mem := uint64(memoryMB) * 1024 * 1024
		limits[unix.RLIMIT_AS] = &unix.Rlimit{Cur: mem, Max: mem}
	}
	return limits
}

// applyLimits sets limits on a running process.
func applyLimits(pid, cpuSeconds, memoryMB int) error {
	for res, lim := range rlimits(cpuSeconds, memoryMB) {
		if err := unix.Prlimit(pid, res, lim, nil); err != nil {
			if errors.Is(err, unix.ESRCH) {
				// already exited
				return nil
			}
			return fmt.Errorf("prlimit %d: %w", res, err)
		}
	}
	return nil
}

// ExecLimited sets limits on the calling process and replaces it with argv.
// It only returns on failure.
func ExecLimited(cpuSeconds, memoryMB int, argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("empty command")
	}
	// resolve before lowering RLIMIT_AS below what this process maps
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return err
	}
	env := os.Environ()
	for res, lim := range rlimits(cpuSeconds, memoryMB) {
		if err := unix.Setrlimit(res, lim); err != nil {
			return fmt.Errorf("setrlimit %d: %w", res, err)
		}
	}
	return unix.Exec(path, argv, env)
}
