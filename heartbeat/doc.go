// Package heartbeat announces running courier processes on the bus and
// tracks which of them are alive.
//
// Every serve process runs a Sender that publishes a Heartbeat on one
// subject at a fixed interval, carrying its role and how much work it
// holds. A Monitor listens on that subject, keeps the newest beat per
// process and reports processes that fall silent:
//
//	sender, _ := heartbeat.NewSender(heartbeat.SenderConfig{
//	    Bus:       nb,
//	    ProcessID: "host-4121",
//	    Role:      "orchestrator",
//	    Stats:     func() heartbeat.Stats { return heartbeat.Stats{InFlight: orch.Active()} },
//	})
//	sender.Start(ctx)
//
//	monitor, _ := heartbeat.NewMonitor(heartbeat.MonitorConfig{Bus: nb})
//	monitor.OnDead(func(id string) { log.Printf("%s went silent", id) })
//	monitor.Start()
//
// One subject serves all processes, so the in-memory bus works as well as
// NATS. A process that shuts down cleanly sends a final "stopped" beat and
// is forgotten at once instead of timing out.
package heartbeat
