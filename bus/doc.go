// Package bus carries events between channel adapters and the orchestrator.
//
// # Layers
//
//   - MessageBus: raw subject-based pub/sub (NATSBus, MemoryBus)
//   - EventBus: four typed channels with JSON payloads on top of a MessageBus
//
// # Channels
//
//   - incoming_message: user messages from channel adapters
//   - outgoing_reply: replies for the user; one per task has done=true
//   - stream_token: incremental reply tokens
//   - agent_result: per-stage dispatch outcomes, for observers
//
// # Delivery
//
// Delivery is at-most-once. Publish never blocks: an event published while
// no subscriber is connected, or while a subscriber's buffer is full, is
// lost. Undecodable payloads are logged and dropped; handler errors and
// panics are logged and do not stop the listener.
//
//	eb := bus.NewEventBus(bus.NewMemoryBus(bus.DefaultConfig()), bus.DefaultEventBusConfig(), logger)
//	eb.Subscribe(bus.ChannelOutgoingReply, func(ctx context.Context, ev bus.Event) error {
//	    reply := ev.(*bus.OutgoingReply)
//	    ...
//	})
//	go eb.Run(ctx)
//	eb.Publish(&bus.IncomingMessage{...})
package bus
