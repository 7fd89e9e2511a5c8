package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	apperrors "github.com/vinayprograms/courier/errors"
	"github.com/vinayprograms/courier/logging"
)

// Handler consumes a decoded event. Errors and panics are logged by the
// listener and never stop it.
type Handler func(ctx context.Context, ev Event) error

// EventBusConfig configures an EventBus.
type EventBusConfig struct {
	// Prefix is prepended to channel names to form bus subjects.
	Prefix string

	// WorkQueue, when set, subscribes to incoming_message as a queue
	// group so several orchestrator processes share inbound load.
	WorkQueue string

	// InboxSize bounds messages waiting for the listener.
	InboxSize int
}

// DefaultEventBusConfig returns configuration with sensible defaults.
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		Prefix:    "courier.",
		InboxSize: 1024,
	}
}

// EventBus routes typed events over a MessageBus.
//
// Subscribe registers handlers; Run delivers messages to them one at a
// time, in arrival order per channel. Handlers that need to do slow work
// should hand it to their own goroutine.
type EventBus struct {
	bus    MessageBus
	config EventBusConfig
	logger *logging.Logger

	mu       sync.RWMutex
	handlers map[Channel][]Handler
	subs     map[Channel]Subscription

	inbox    chan *Message
	stopped  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

// NewEventBus creates an EventBus on top of b.
func NewEventBus(b MessageBus, cfg EventBusConfig, logger *logging.Logger) *EventBus {
	def := DefaultEventBusConfig()
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = def.InboxSize
	}
	return &EventBus{
		bus:      b,
		config:   cfg,
		logger:   logging.OrNop(logger).WithComponent("bus"),
		handlers: make(map[Channel][]Handler),
		subs:     make(map[Channel]Subscription),
		inbox:    make(chan *Message, cfg.InboxSize),
		done:     make(chan struct{}),
	}
}

// Subject returns the bus subject for a channel.
func (e *EventBus) Subject(ch Channel) string {
	return e.config.Prefix + string(ch)
}

// Publish serialises ev and sends it. It does not wait for delivery;
// an event published while nobody listens is lost.
func (e *EventBus) Publish(ev Event) error {
	data, err := Encode(ev)
	if err != nil {
		return apperrors.WrapWithCode(err, apperrors.ErrCodeMalformed, "encode "+string(ev.Channel()))
	}
	if err := e.bus.Publish(e.Subject(ev.Channel()), data); err != nil {
		return apperrors.WrapWithCode(err, apperrors.ErrCodeUnavailable, "publish "+string(ev.Channel()))
	}
	return nil
}

// Subscribe adds a handler for ch. Several handlers on one channel all run,
// in registration order.
func (e *EventBus) Subscribe(ch Channel, h Handler) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.handlers[ch] = append(e.handlers[ch], h)
	if _, ok := e.subs[ch]; ok {
		return nil
	}

	var sub Subscription
	var err error
	if ch == ChannelIncomingMessage && e.config.WorkQueue != "" {
		sub, err = e.bus.QueueSubscribe(e.Subject(ch), e.config.WorkQueue)
	} else {
		sub, err = e.bus.Subscribe(e.Subject(ch))
	}
	if err != nil {
		e.handlers[ch] = e.handlers[ch][:len(e.handlers[ch])-1]
		return fmt.Errorf("subscribe %s: %w", ch, err)
	}
	e.subs[ch] = sub
	go e.forward(sub)
	return nil
}

// forward moves one subscription's messages into the shared inbox.
func (e *EventBus) forward(sub Subscription) {
	for msg := range sub.Messages() {
		select {
		case e.inbox <- msg:
		case <-e.done:
			return
		}
	}
}

// Run delivers messages to handlers until ctx is cancelled or Stop is
// called. The message being handled when Stop is called completes first.
func (e *EventBus) Run(ctx context.Context) error {
	for {
		if e.stopped.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.done:
			return nil
		case msg := <-e.inbox:
			e.dispatch(ctx, msg)
		}
	}
}

func (e *EventBus) dispatch(ctx context.Context, msg *Message) {
	ch := Channel(strings.TrimPrefix(msg.Subject, e.config.Prefix))

	ev, err := Decode(ch, msg.Data)
	if err != nil {
		e.logger.PayloadDropped(string(ch), err)
		return
	}

	e.mu.RLock()
	handlers := append([]Handler(nil), e.handlers[ch]...)
	e.mu.RUnlock()

	for _, h := range handlers {
		if err := e.invoke(ctx, h, ev); err != nil {
			e.logger.HandlerFailed(string(ch), err)
		}
	}
}

func (e *EventBus) invoke(ctx context.Context, h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.RecoverPanic(r)
		}
	}()
	return h(ctx, ev)
}

// Stop asks Run to return after the current message.
func (e *EventBus) Stop() {
	e.stopOnce.Do(func() {
		e.stopped.Store(true)
		close(e.done)
	})
}

// Close stops the listener and drops every subscription.
func (e *EventBus) Close() error {
	e.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	for ch, sub := range e.subs {
		sub.Unsubscribe()
		delete(e.subs, ch)
	}
	if dc, ok := e.bus.(DropCounter); ok && dc.Dropped() > 0 {
		e.logger.Warn("deliveries lost to full buffers", map[string]interface{}{"dropped": dc.Dropped()})
	}
	return nil
}
