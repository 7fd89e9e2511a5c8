package bus

import (
	"sync"
	"sync/atomic"
)

// MemoryBus is a MessageBus inside one process, for tests and
// single-process deployments. It follows the NATS wildcard and queue
// group semantics so code behaves the same on both.
type MemoryBus struct {
	config Config

	mu      sync.RWMutex
	subs    []*memorySub
	groups  map[groupKey]*queueGroup
	closed  atomic.Bool
	dropped atomic.Uint64
}

type groupKey struct{ pattern, queue string }

// queueGroup hands messages round-robin to its members.
type queueGroup struct {
	members []*memorySub
	next    atomic.Uint32
}

type memorySub struct {
	pattern string
	queue   string
	ch      chan *Message
	closed  bool // guarded by bus.mu
	bus     *MemoryBus
}

// NewMemoryBus creates an in-memory bus.
func NewMemoryBus(cfg Config) *MemoryBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	return &MemoryBus{
		config: cfg,
		groups: make(map[groupKey]*queueGroup),
	}
}

// Publish implements MessageBus.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}
	msg := &Message{Subject: subject, Data: data}

	// the read lock keeps Unsubscribe from closing a channel mid-send
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if MatchSubject(sub.pattern, subject) && !b.offer(sub, msg) {
			b.dropped.Add(1)
		}
	}
	for key, g := range b.groups {
		if MatchSubject(key.pattern, subject) {
			b.deliverToGroup(g, msg)
		}
	}
	return nil
}

func (b *MemoryBus) offer(sub *memorySub, msg *Message) bool {
	if sub.closed {
		return true
	}
	select {
	case sub.ch <- msg:
		return true
	default:
		return false
	}
}

// deliverToGroup starts at the next member in turn and skips full ones.
func (b *MemoryBus) deliverToGroup(g *queueGroup, msg *Message) {
	n := len(g.members)
	if n == 0 {
		return
	}
	start := int(g.next.Add(1)-1) % n
	for i := 0; i < n; i++ {
		sub := g.members[(start+i)%n]
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- msg:
			return
		default:
		}
	}
	b.dropped.Add(1)
}

// Dropped implements DropCounter.
func (b *MemoryBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribe implements MessageBus.
func (b *MemoryBus) Subscribe(pattern string) (Subscription, error) {
	return b.subscribe(pattern, "")
}

// QueueSubscribe implements MessageBus.
func (b *MemoryBus) QueueSubscribe(pattern, queue string) (Subscription, error) {
	if queue == "" {
		return nil, ErrInvalidQueue
	}
	return b.subscribe(pattern, queue)
}

func (b *MemoryBus) subscribe(pattern, queue string) (Subscription, error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub := &memorySub{
		pattern: pattern,
		queue:   queue,
		ch:      make(chan *Message, b.config.BufferSize),
		bus:     b,
	}
	if queue == "" {
		b.subs = append(b.subs, sub)
		return sub, nil
	}
	key := groupKey{pattern, queue}
	g := b.groups[key]
	if g == nil {
		g = &queueGroup{}
		b.groups[key] = g
	}
	g.members = append(g.members, sub)
	return sub, nil
}

// Close closes every subscription channel. Later calls are no-ops.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Swap(true) {
		return nil
	}
	for _, sub := range b.subs {
		sub.close()
	}
	for _, g := range b.groups {
		for _, sub := range g.members {
			sub.close()
		}
	}
	b.subs = nil
	b.groups = nil
	return nil
}

// close must be called with bus.mu held for writing.
func (s *memorySub) close() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *memorySub) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe implements Subscription.
func (s *memorySub) Unsubscribe() error {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed {
		return nil
	}
	if s.queue == "" {
		b.subs = without(b.subs, s)
	} else {
		key := groupKey{s.pattern, s.queue}
		if g := b.groups[key]; g != nil {
			g.members = without(g.members, s)
			if len(g.members) == 0 {
				delete(b.groups, key)
			}
		}
	}
	s.close()
	return nil
}

func without(subs []*memorySub, target *memorySub) []*memorySub {
	out := subs[:0:0]
	for _, sub := range subs {
		if sub != target {
			out = append(out, sub)
		}
	}
	return out
}
