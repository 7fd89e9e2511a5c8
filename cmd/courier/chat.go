package main

import (
	"context"
	"os"

	"github.com/vinayprograms/courier/logging"
	"github.com/vinayprograms/courier/shutdown"
	"github.com/vinayprograms/courier/transport"
)

// Run chats on the terminal until EOF, /quit or a signal.
func (c *ChatCmd) Run(g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	if g.LogLevel == "" {
		// keep the conversation readable
		logger.SetLevel(logging.LevelWarn)
	}
	// a terminal session never shares its bus
	cfg.Bus.Backend = "memory"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := build(ctx, cfg, logger, buildOptions{orchestrator: true, workspace: c.Workspace})
	if err != nil {
		return err
	}
	rt.stop.HandleSignals()

	console := transport.NewConsole(rt.events, os.Stdin, os.Stdout, c.User, logger)
	if err := rt.subscribeOrchestrator(); err != nil {
		rt.stop.Shutdown(ctx)
		return err
	}
	if err := rt.subscribeReplies(console.Deliver); err != nil {
		rt.stop.Shutdown(ctx)
		return err
	}

	consoleCtx, stopConsole := context.WithCancel(ctx)
	rt.stop.RegisterFunc("console", shutdown.PhaseIntake, func(context.Context) error {
		stopConsole()
		return nil
	})

	go rt.events.Run(ctx)
	go func() {
		console.Run(consoleCtx)
		rt.stop.Trigger()
	}()

	<-rt.stop.Done()
	return rt.stop.Report().Err
}
