package main

import (
	"fmt"
	"time"

	"github.com/alecthomas/kong"

	"github.com/vinayprograms/courier/config"
	"github.com/vinayprograms/courier/credentials"
	"github.com/vinayprograms/courier/logging"
)

// Globals are flags shared by every command.
type Globals struct {
	Config      string `short:"c" help:"Config file (TOML or YAML). Defaults to ./courier.toml when present." type:"path"`
	LogLevel    string `help:"Override log level (debug, info, warn, error)."`
	Credentials string `help:"Secrets file. Defaults to ./credentials.toml, then ~/.config/courier/credentials.toml." type:"path"`
}

// CLI defines the command-line interface.
type CLI struct {
	Globals

	Serve       ServeCmd       `cmd:"" help:"Run the orchestrator and channel gateway"`
	Chat        ChatCmd        `cmd:"" help:"Chat from the terminal with an in-process orchestrator"`
	Check       CheckCmd       `cmd:"" help:"Validate configuration and policy"`
	Task        TaskCmd        `cmd:"" help:"Inspect stored tasks"`
	Status      StatusCmd      `cmd:"" help:"List live courier processes on the bus"`
	SandboxExec SandboxExecCmd `cmd:"" name:"sandbox-exec" hidden:"" help:"Apply resource limits and exec a command"`
	Version     VersionCmd     `cmd:"" help:"Show version information"`
}

// ServeCmd runs a long-lived process.
type ServeCmd struct {
	Role   string `default:"all" enum:"all,orchestrator,gateway" help:"Components to run: all, orchestrator or gateway."`
	Listen string `help:"Gateway listen address (overrides config)."`
	Stdio  bool   `help:"Serve one JSON-RPC session on stdin/stdout instead of WebSocket."`
}

// ChatCmd runs an interactive console session.
type ChatCmd struct {
	User      string `default:"local" help:"User id for this session."`
	Workspace string `help:"Workspace directory (overrides config)." type:"path"`
}

// CheckCmd validates configuration.
type CheckCmd struct {
	Commands []string `arg:"" optional:"" name:"command" help:"Shell commands to judge against the whitelist."`
}

// StatusCmd listens for heartbeats.
type StatusCmd struct {
	Wait time.Duration `default:"6s" help:"How long to listen for heartbeats."`
}

// TaskCmd groups task store commands.
type TaskCmd struct {
	Show  TaskShowCmd  `cmd:"" help:"Print a task record as JSON"`
	List  TaskListCmd  `cmd:"" help:"List task ids"`
	Purge TaskPurgeCmd `cmd:"" help:"Delete tasks"`
}

// TaskShowCmd prints one task.
type TaskShowCmd struct {
	ID string `arg:"" help:"Task id"`
}

// TaskListCmd lists task ids.
type TaskListCmd struct{}

// TaskPurgeCmd deletes tasks.
type TaskPurgeCmd struct {
	IDs []string `arg:"" optional:"" name:"id" help:"Task ids. Omit with --all to delete every task."`
	All bool     `help:"Delete every task."`
}

// SandboxExecCmd is the re-exec target of the sandbox helper mode.
type SandboxExecCmd struct {
	CPU  int      `name:"cpu" help:"CPU seconds limit"`
	Mem  int      `name:"mem" help:"Address space limit in MB"`
	Argv []string `arg:"" passthrough:"" help:"Command to exec"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}

// load reads the config and applies global overrides.
func (g *Globals) load() (*config.Config, *logging.Logger, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.Config != "" {
		cfg, err = config.LoadFile(g.Config)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, nil, err
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	var creds *credentials.Credentials
	if g.Credentials != "" {
		creds, err = credentials.LoadFile(g.Credentials)
	} else {
		creds, err = credentials.Load()
	}
	if err != nil {
		return nil, nil, err
	}
	cfg.UseCredentials(creds)

	logger := logging.New()
	logger.SetLevel(logging.ParseLevel(cfg.Log.Level))
	return cfg, logger, nil
}

// Run prints version information.
func (VersionCmd) Run(*Globals) error {
	fmt.Printf("courier version %s (commit: %s, built: %s)\n", version, commit, buildTime)
	return nil
}
