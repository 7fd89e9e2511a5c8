package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

var (
	ErrClosed = errors.New("transport closed")
)

// Transport moves JSON-RPC messages between a client and the gateway.
type Transport interface {
	// Recv yields parsed inbound messages. It is closed when the peer
	// stops sending or the transport shuts down.
	Recv() <-chan *InboundMessage

	// Send queues a message for delivery. Returns ErrClosed after Close.
	Send(msg *OutboundMessage) error

	// Run pumps frames until ctx is cancelled or Close is called.
	Run(ctx context.Context) error

	// Close stops the transport after flushing queued sends.
	Close() error
}

// InboundMessage is either a request (has an id) or a notification.
type InboundMessage struct {
	Request      *Request
	Notification *Notification
	Raw          json.RawMessage
}

// OutboundMessage is either a response or a notification.
type OutboundMessage struct {
	Response     *Response
	Notification *Notification
}

// ParseInbound parses one frame. Failures are returned as *Error so they
// can be sent back to the client as-is.
func ParseInbound(data []byte) (*InboundMessage, error) {
	var head struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, &Error{Code: ParseError, Message: "Parse error", Data: err.Error()}
	}
	if head.JSONRPC != "2.0" {
		return nil, &Error{Code: InvalidRequest, Message: "Invalid Request", Data: "jsonrpc must be 2.0"}
	}

	msg := &InboundMessage{Raw: data}
	var target interface{}
	if len(head.ID) > 0 && string(head.ID) != "null" {
		msg.Request = &Request{}
		target = msg.Request
	} else {
		msg.Notification = &Notification{}
		target = msg.Notification
	}
	if err := json.Unmarshal(data, target); err != nil {
		return nil, &Error{Code: ParseError, Message: "Parse error", Data: err.Error()}
	}
	return msg, nil
}

// MarshalOutbound serializes an OutboundMessage.
func MarshalOutbound(msg *OutboundMessage) ([]byte, error) {
	switch {
	case msg.Response != nil:
		return json.Marshal(msg.Response)
	case msg.Notification != nil:
		return json.Marshal(msg.Notification)
	}
	return nil, errors.New("empty outbound message")
}

// Config holds queue sizes shared by all transports.
type Config struct {
	RecvBufferSize int
	SendBufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RecvBufferSize: 64,
		SendBufferSize: 256,
	}
}

// framer reads and writes whole frames on a concrete medium.
type framer interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	Close() error
}

// stream implements Transport on top of a framer.
type stream struct {
	frames framer

	recv chan *InboundMessage
	send chan *OutboundMessage
	done chan struct{}

	mu      sync.Mutex
	closed  bool
	flushed sync.WaitGroup
}

func newStream(f framer, cfg Config) *stream {
	def := DefaultConfig()
	if cfg.RecvBufferSize <= 0 {
		cfg.RecvBufferSize = def.RecvBufferSize
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = def.SendBufferSize
	}
	return &stream{
		frames: f,
		recv:   make(chan *InboundMessage, cfg.RecvBufferSize),
		send:   make(chan *OutboundMessage, cfg.SendBufferSize),
		done:   make(chan struct{}),
	}
}

func (s *stream) Recv() <-chan *InboundMessage { return s.recv }

func (s *stream) Send(msg *OutboundMessage) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case s.send <- msg:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

func (s *stream) Run(ctx context.Context) error {
	s.flushed.Add(1)
	go s.readLoop()
	go func() {
		defer s.flushed.Done()
		s.writeLoop()
	}()

	select {
	case <-ctx.Done():
		s.Close()
	case <-s.done:
	}
	s.flushed.Wait()
	return ctx.Err()
}

// Close asks the write loop to flush the send queue and close the
// medium. The read loop ends when the medium reports an error.
func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()
	return nil
}

func (s *stream) readLoop() {
	defer close(s.recv)
	for {
		data, err := s.frames.ReadFrame()
		if err != nil {
			return
		}
		if len(data) == 0 {
			continue
		}
		msg, perr := ParseInbound(data)
		if perr != nil {
			s.replyParseError(data, perr)
			continue
		}
		select {
		case s.recv <- msg:
		case <-s.done:
			return
		}
	}
}

func (s *stream) writeLoop() {
	defer s.frames.Close()
	for {
		select {
		case msg := <-s.send:
			s.write(msg)
		case <-s.done:
			for {
				select {
				case msg := <-s.send:
					s.write(msg)
				default:
					return
				}
			}
		}
	}
}

func (s *stream) write(msg *OutboundMessage) {
	data, err := MarshalOutbound(msg)
	if err != nil {
		return
	}
	_ = s.frames.WriteFrame(data)
}

// replyParseError answers a bad frame, echoing its id when one can be found.
func (s *stream) replyParseError(raw []byte, err error) {
	var partial struct {
		ID interface{} `json:"id"`
	}
	_ = json.Unmarshal(raw, &partial)

	rpcErr, ok := err.(*Error)
	if !ok {
		rpcErr = &Error{Code: ParseError, Message: "Parse error", Data: err.Error()}
	}
	_ = s.Send(&OutboundMessage{Response: &Response{JSONRPC: "2.0", ID: partial.ID, Error: rpcErr}})
}
