package transport

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vinayprograms/courier/bus"
	"github.com/vinayprograms/courier/logging"
)

// Publisher sends events onto the bus.
type Publisher interface {
	Publish(ev bus.Event) error
}

// SessionOptions describe one client connection.
type SessionOptions struct {
	// Source tags incoming messages with the adapter they came from.
	Source string

	// UserID is used when a message does not name one.
	UserID string

	// Linger keeps the session open after the client stops sending until
	// every accepted message has had its final reply.
	Linger bool
}

// Gateway bridges client sessions and the event bus.
type Gateway struct {
	events Publisher
	logger *logging.Logger

	mu    sync.Mutex
	chats map[string]*session
}

// NewGateway creates a gateway publishing to events.
func NewGateway(events Publisher, logger *logging.Logger) *Gateway {
	return &Gateway{
		events: events,
		logger: logging.OrNop(logger).WithComponent("gateway"),
		chats:  make(map[string]*session),
	}
}

type session struct {
	id     string
	t      Transport
	opts   SessionOptions
	mu     sync.Mutex
	chats  map[string]bool
	wanted int // accepted messages still waiting for a final reply
	idle   chan struct{}
}

// Serve runs one session until the client goes away or ctx is cancelled.
// The transport is started and closed here.
func (g *Gateway) Serve(ctx context.Context, t Transport, opts SessionOptions) error {
	if opts.Source == "" {
		opts.Source = "gateway"
	}
	s := &session{
		id:    uuid.NewString(),
		t:     t,
		opts:  opts,
		chats: make(map[string]bool),
		idle:  make(chan struct{}, 1),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- t.Run(ctx) }()

	g.logger.Debug("session opened", map[string]interface{}{"session": s.id, "source": opts.Source})
	for msg := range t.Recv() {
		g.handle(s, msg)
	}
	if opts.Linger {
		s.waitIdle(ctx)
	}

	g.unbind(s)
	t.Close()
	cancel()
	g.logger.Debug("session closed", map[string]interface{}{"session": s.id})
	err := <-done
	if err == context.Canceled {
		return nil
	}
	return err
}

func (g *Gateway) handle(s *session, msg *InboundMessage) {
	if msg.Notification != nil {
		return
	}
	req := msg.Request
	switch req.Method {
	case MethodPing:
		s.t.Send(result(req.ID, "pong"))
	case MethodSend:
		var p SendParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			s.t.Send(failure(req.ID, InvalidParams, "Invalid params", err.Error()))
			return
		}
		if strings.TrimSpace(p.Text) == "" && len(p.Attachments) == 0 {
			s.t.Send(failure(req.ID, InvalidParams, "Invalid params", "text or attachments required"))
			return
		}
		res, err := g.send(s, p)
		if err != nil {
			s.t.Send(failure(req.ID, InternalError, "Internal error", err.Error()))
			return
		}
		s.t.Send(result(req.ID, res))
	default:
		s.t.Send(failure(req.ID, MethodNotFound, "Method not found", req.Method))
	}
}

func (g *Gateway) send(s *session, p SendParams) (*SendResult, error) {
	if p.ChatID == "" {
		p.ChatID = s.id
	}
	if p.MessageID == "" {
		p.MessageID = uuid.NewString()
	}
	if p.UserID == "" {
		p.UserID = s.opts.UserID
	}
	if p.UserID == "" {
		p.UserID = p.ChatID
	}
	g.bind(s, p.ChatID)

	s.mu.Lock()
	s.wanted++
	s.mu.Unlock()

	err := g.events.Publish(&bus.IncomingMessage{
		MessageID:   p.MessageID,
		UserID:      p.UserID,
		ChatID:      p.ChatID,
		Source:      s.opts.Source,
		Text:        p.Text,
		Reasoning:   p.Reasoning,
		Attachments: p.Attachments,
	})
	if err != nil {
		s.settle()
		return nil, err
	}
	return &SendResult{MessageID: p.MessageID, ChatID: p.ChatID, Accepted: true}, nil
}

// bind routes replies for chatID to s. The newest session wins.
func (g *Gateway) bind(s *session, chatID string) {
	g.mu.Lock()
	g.chats[chatID] = s
	g.mu.Unlock()
	s.mu.Lock()
	s.chats[chatID] = true
	s.mu.Unlock()
}

func (g *Gateway) unbind(s *session) {
	s.mu.Lock()
	chats := make([]string, 0, len(s.chats))
	for c := range s.chats {
		chats = append(chats, c)
	}
	s.mu.Unlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range chats {
		if g.chats[c] == s {
			delete(g.chats, c)
		}
	}
}

func (g *Gateway) lookup(chatID string) *session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.chats[chatID]
}

// Deliver is a bus handler for outgoing_reply and stream_token. Events
// for chats with no session here are ignored; another gateway may own them.
func (g *Gateway) Deliver(_ context.Context, ev bus.Event) error {
	switch e := ev.(type) {
	case *bus.OutgoingReply:
		s := g.lookup(e.ChatID)
		if s == nil {
			return nil
		}
		err := s.t.Send(notification(NotifyReply, e))
		if e.Done {
			s.settle()
		}
		return err
	case *bus.StreamToken:
		if s := g.lookup(e.ChatID); s != nil {
			return s.t.Send(notification(NotifyToken, e))
		}
	}
	return nil
}

// Sessions returns the number of chats currently routed here.
func (g *Gateway) Sessions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.chats)
}

func (s *session) settle() {
	s.mu.Lock()
	if s.wanted > 0 {
		s.wanted--
	}
	idle := s.wanted == 0
	s.mu.Unlock()
	if idle {
		select {
		case s.idle <- struct{}{}:
		default:
		}
	}
}

func (s *session) waitIdle(ctx context.Context) {
	for {
		s.mu.Lock()
		n := s.wanted
		s.mu.Unlock()
		if n == 0 {
			return
		}
		select {
		case <-s.idle:
		case <-ctx.Done():
			return
		}
	}
}
