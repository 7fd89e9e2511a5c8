package bus

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vinayprograms/courier/core"
)

// Channel names one of the typed event streams.
type Channel string

const (
	ChannelIncomingMessage Channel = "incoming_message"
	ChannelOutgoingReply   Channel = "outgoing_reply"
	ChannelStreamToken     Channel = "stream_token"
	ChannelAgentResult     Channel = "agent_result"
)

// Channels lists every known channel.
var Channels = []Channel{
	ChannelIncomingMessage,
	ChannelOutgoingReply,
	ChannelStreamToken,
	ChannelAgentResult,
}

// ErrUnknownChannel is returned when decoding for a channel nobody defined.
var ErrUnknownChannel = errors.New("unknown channel")

// Event is a payload bound to its channel.
type Event interface {
	Channel() Channel
	validate() error
}

// IncomingMessage is a user message entering the system.
type IncomingMessage struct {
	MessageID   string   `json:"message_id"`
	UserID      string   `json:"user_id"`
	ChatID      string   `json:"chat_id"`
	Source      string   `json:"channel"` // originating channel adapter tag
	Text        string   `json:"text"`
	Reasoning   bool     `json:"reasoning"`
	Attachments []string `json:"attachments,omitempty"`
}

// OutgoingReply is a reply for the user. Exactly one reply per task has Done set.
type OutgoingReply struct {
	TaskID     string               `json:"task_id"`
	ChatID     string               `json:"chat_id"`
	MessageID  string               `json:"message_id"`
	Text       string               `json:"text"`
	Done       bool                 `json:"done"`
	Attachment *core.SendAttachment `json:"send_attachment,omitempty"`
	Checklist  *core.SendChecklist  `json:"send_checklist,omitempty"`
}

// StreamToken is an incremental piece of a reply being generated.
type StreamToken struct {
	TaskID string `json:"task_id"`
	ChatID string `json:"chat_id"`
	Token  string `json:"token"`
	Done   bool   `json:"done"`
}

// AgentResult reports the outcome of one stage dispatch.
type AgentResult struct {
	TaskID    string          `json:"task_id"`
	Agent     string          `json:"agent"`
	Success   bool            `json:"success"`
	Output    string          `json:"output,omitempty"`
	ToolCalls []core.ToolCall `json:"tool_calls,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func (*IncomingMessage) Channel() Channel { return ChannelIncomingMessage }
func (*OutgoingReply) Channel() Channel   { return ChannelOutgoingReply }
func (*StreamToken) Channel() Channel     { return ChannelStreamToken }
func (*AgentResult) Channel() Channel     { return ChannelAgentResult }

func (m *IncomingMessage) validate() error {
	if m.ChatID == "" {
		return errors.New("chat_id is required")
	}
	if m.MessageID == "" {
		return errors.New("message_id is required")
	}
	return nil
}

func (r *OutgoingReply) validate() error {
	if r.ChatID == "" {
		return errors.New("chat_id is required")
	}
	return nil
}

func (s *StreamToken) validate() error {
	if s.ChatID == "" {
		return errors.New("chat_id is required")
	}
	return nil
}

func (r *AgentResult) validate() error {
	if r.TaskID == "" {
		return errors.New("task_id is required")
	}
	return nil
}

// Encode serialises an event for the wire.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// Decode parses data as the payload type of ch.
func Decode(ch Channel, data []byte) (Event, error) {
	var ev Event
	switch ch {
	case ChannelIncomingMessage:
		ev = &IncomingMessage{}
	case ChannelOutgoingReply:
		ev = &OutgoingReply{}
	case ChannelStreamToken:
		ev = &StreamToken{}
	case ChannelAgentResult:
		ev = &AgentResult{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, ch)
	}

	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ch, err)
	}
	if err := ev.validate(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ch, err)
	}
	return ev, nil
}
