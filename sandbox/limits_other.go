//go:build !linux

package sandbox

import (
	"errors"
	"os/exec"
	"time"
)

const helperSupported = false

// ErrUnsupported is returned where rlimits cannot be applied.
var ErrUnsupported = errors.New("sandbox: resource limits not supported on this platform")

func prepare(cmd *exec.Cmd) {
	cmd.WaitDelay = time.Second
}

func applyLimits(pid, cpuSeconds, memoryMB int) error {
	return ErrUnsupported
}

// ExecLimited is only available on linux.
func ExecLimited(cpuSeconds, memoryMB int, argv []string) error {
	return ErrUnsupported
}
