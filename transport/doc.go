// Package transport connects chat clients to the courier event bus.
//
// Clients speak JSON-RPC 2.0 over a Transport: line-delimited frames on
// stdin/stdout, or WebSocket messages. A client calls message.send; the
// Gateway publishes an incoming_message event and later pushes reply and
// token notifications for that chat back to the session that sent it.
//
//	{"jsonrpc":"2.0","id":1,"method":"message.send","params":{"text":"hi"}}
//	{"jsonrpc":"2.0","id":1,"result":{"message_id":"...","chat_id":"...","accepted":true}}
//	{"jsonrpc":"2.0","method":"token","params":{"task_id":"...","token":"Hel"}}
//	{"jsonrpc":"2.0","method":"reply","params":{"task_id":"...","text":"Hello","done":true}}
//
// Console is a plain-text adapter for interactive use in a terminal.
package transport
