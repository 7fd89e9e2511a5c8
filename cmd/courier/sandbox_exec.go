package main

import (
	"fmt"

	"github.com/vinayprograms/courier/sandbox"
)

// Run replaces the process with Argv under the requested limits. It only
// returns on failure.
func (c *SandboxExecCmd) Run(*Globals) error {
	if len(c.Argv) == 0 {
		return fmt.Errorf("sandbox-exec: no command")
	}
	return sandbox.ExecLimited(c.CPU, c.Mem, c.Argv)
}
