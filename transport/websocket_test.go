package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialServer(t *testing.T, h http.Handler) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(h)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

// --- Unit Tests ---

func TestWebSocketConfigDefaults(t *testing.T) {
	cfg := DefaultWebSocketConfig()
	if cfg.MaxMessageSize != 1024*1024 {
		t.Errorf("MaxMessageSize = %d, want 1MB", cfg.MaxMessageSize)
	}
	if cfg.WriteTimeout != 10*time.Second {
		t.Errorf("WriteTimeout = %v", cfg.WriteTimeout)
	}
}

func TestUpgraderOrigins(t *testing.T) {
	up := NewWebSocketUpgrader(WebSocketConfig{AllowedOrigins: []string{"https://chat.example"}})
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://evil.example")
	if up.CheckOrigin(r) {
		t.Error("foreign origin accepted")
	}
	r.Header.Set("Origin", "https://chat.example")
	if !up.CheckOrigin(r) {
		t.Error("allowed origin rejected")
	}
}

// --- Integration Tests ---

func TestWebSocketTransportEcho(t *testing.T) {
	cfg := DefaultWebSocketConfig()
	up := NewWebSocketUpgrader(cfg)
	conn, cleanup := dialServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		tr := NewWebSocketTransport(c, cfg)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		go tr.Run(ctx)
		for msg := range tr.Recv() {
			tr.Send(result(msg.Request.ID, msg.Request.Method))
		}
		tr.Close()
	}))
	defer cleanup()

	conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var resp Response
	json.Unmarshal(data, &resp)
	if resp.Result != "ping" {
		t.Errorf("result = %v", resp.Result)
	}

	conn.WriteMessage(websocket.TextMessage, []byte(`{oops`))
	_, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"code":-32700`) {
		t.Errorf("expected parse error, got %s", data)
	}
}
