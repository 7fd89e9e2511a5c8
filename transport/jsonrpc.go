package transport

import (
	"encoding/json"
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Standard error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Notification represents a JSON-RPC 2.0 notification (no ID).
type Notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Methods a client may call.
const (
	MethodSend = "message.send"
	MethodPing = "ping"
)

// Notifications pushed to clients.
const (
	NotifyReply = "reply"
	NotifyToken = "token"
)

// SendParams are the parameters for message.send. A missing chat id is
// filled with the session's own chat, a missing message id with a fresh one.
type SendParams struct {
	MessageID   string   `json:"message_id,omitempty"`
	UserID      string   `json:"user_id,omitempty"`
	ChatID      string   `json:"chat_id,omitempty"`
	Text        string   `json:"text"`
	Reasoning   bool     `json:"reasoning,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

// SendResult acknowledges a queued message. Replies arrive later as
// notifications.
type SendResult struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
	Accepted  bool   `json:"accepted"`
}

func result(id, v interface{}) *OutboundMessage {
	return &OutboundMessage{Response: &Response{JSONRPC: "2.0", ID: id, Result: v}}
}

func failure(id interface{}, code int, message string, data interface{}) *OutboundMessage {
	return &OutboundMessage{Response: &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: message, Data: data},
	}}
}

func notification(method string, params interface{}) *OutboundMessage {
	return &OutboundMessage{Notification: &Notification{JSONRPC: "2.0", Method: method, Params: params}}
}
