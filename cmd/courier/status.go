package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/vinayprograms/courier/bus"
	"github.com/vinayprograms/courier/heartbeat"
)

// Run listens for heartbeats for the wait period and prints the processes seen.
func (c *StatusCmd) Run(g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	if cfg.Bus.Backend != "nats" {
		fmt.Fprintln(os.Stderr, "note: with the memory bus only processes inside this one are visible")
	}
	ctx := context.Background()
	rt, err := build(ctx, cfg, logger, buildOptions{})
	if err != nil {
		return err
	}
	defer rt.stop.Shutdown(ctx)

	beats, err := listen(ctx, rt.bus, rt.subject("heartbeat"), c.Wait)
	if err != nil {
		return err
	}
	printStatus(os.Stdout, beats, time.Now())
	return nil
}

// listen collects heartbeats on subject for wait.
func listen(ctx context.Context, mb bus.MessageBus, subject string, wait time.Duration) ([]heartbeat.Heartbeat, error) {
	m, err := heartbeat.NewMonitor(heartbeat.MonitorConfig{Bus: mb, Subject: subject, Timeout: 2 * wait})
	if err != nil {
		return nil, err
	}
	if err := m.Start(); err != nil {
		return nil, err
	}
	defer m.Stop()

	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
	return m.Snapshot(), nil
}

func printStatus(w io.Writer, beats []heartbeat.Heartbeat, now time.Time) {
	if len(beats) == 0 {
		fmt.Fprintln(w, "no courier processes seen")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROCESS\tROLE\tSTATUS\tTASKS\tSESSIONS\tVERSION\tLAST SEEN")
	for _, hb := range beats {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s ago\n",
			hb.ProcessID, hb.Role, hb.Status, hb.InFlight, hb.Sessions, hb.Version,
			now.Sub(hb.Timestamp).Round(time.Second))
	}
	tw.Flush()
}
