package main

import (
	"context"
	"os"

	"github.com/vinayprograms/courier/config"
	"github.com/vinayprograms/courier/heartbeat"
	"github.com/vinayprograms/courier/shutdown"
	"github.com/vinayprograms/courier/transport"
)

// Run starts the configured roles and blocks until a signal arrives.
func (c *ServeCmd) Run(g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	if c.Listen != "" {
		cfg.Gateway.Listen = c.Listen
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runOrchestrator := c.Role != "gateway"
	runGateway := c.Role != "orchestrator"

	rt, err := build(ctx, cfg, logger, buildOptions{orchestrator: runOrchestrator})
	if err != nil {
		return err
	}
	rt.stop.HandleSignals()

	if runOrchestrator {
		if err := rt.subscribeOrchestrator(); err != nil {
			rt.stop.Shutdown(ctx)
			return err
		}
	}

	var gw *transport.Gateway
	if runGateway {
		gw = transport.NewGateway(rt.events, logger)
		if err := rt.subscribeReplies(gw.Deliver); err != nil {
			rt.stop.Shutdown(ctx)
			return err
		}

		// sessions stay open until in-flight tasks have replied
		sessions, closeSessions := context.WithCancel(ctx)
		rt.stop.RegisterFunc("sessions", shutdown.PhaseDrain+1, func(context.Context) error {
			closeSessions()
			return nil
		})

		if c.Stdio {
			go func() {
				t := transport.NewStdioTransport(os.Stdin, os.Stdout, transport.DefaultConfig())
				gw.Serve(sessions, t, transport.SessionOptions{Source: "stdio", Linger: true})
				rt.stop.Trigger()
			}()
		} else {
			srv, err := gw.Listen(sessions, cfg.Gateway.Listen, cfg.Gateway.Path, transport.DefaultWebSocketConfig())
			if err != nil {
				rt.stop.Shutdown(ctx)
				return err
			}
			rt.stop.RegisterFunc("gateway", shutdown.PhaseIntake, srv.Shutdown)
			go func() {
				if err := srv.Serve(); err != nil {
					logger.Error("gateway stopped", map[string]interface{}{"error": err.Error()})
					rt.stop.Trigger()
				}
			}()
			logger.Info("gateway listening", map[string]interface{}{"addr": srv.Addr(), "path": cfg.Gateway.Path})
		}
	}

	if err := rt.startHeartbeat(ctx, c.Role, gw); err != nil {
		rt.stop.Shutdown(ctx)
		return err
	}

	go rt.events.Run(ctx)
	logger.Info("courier started", map[string]interface{}{"role": c.Role, "bus": cfg.Bus.Backend, "store": cfg.Store.Backend})

	<-rt.stop.Done()
	return rt.stop.Report().Err
}

// startHeartbeat announces this process until shutdown. It switches to
// draining as soon as intake stops.
func (rt *runtime) startHeartbeat(ctx context.Context, role string, gw *transport.Gateway) error {
	sender, err := heartbeat.NewSender(heartbeat.SenderConfig{
		Bus:       rt.bus,
		Subject:   rt.subject("heartbeat"),
		ProcessID: processID(),
		Role:      role,
		Version:   version,
		Interval:  config.Duration(rt.cfg.Bus.HeartbeatInterval, 0),
		Stats: func() heartbeat.Stats {
			var st heartbeat.Stats
			if rt.orch != nil {
				st.InFlight = rt.orch.Active()
			}
			if gw != nil {
				st.Sessions = gw.Sessions()
			}
			return st
		},
	})
	if err != nil {
		return err
	}
	if err := sender.Start(ctx); err != nil {
		return err
	}
	rt.stop.RegisterFunc("heartbeat-drain", shutdown.PhaseIntake, func(context.Context) error {
		sender.Drain()
		return nil
	})
	rt.stop.RegisterFunc("heartbeat", shutdown.PhaseBus, func(context.Context) error {
		return sender.Stop()
	})
	return nil
}
