package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConfig holds WebSocket transport configuration.
type WebSocketConfig struct {
	Config

	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration

	// MaxMessageSize limits incoming frames.
	MaxMessageSize int64

	// PingInterval for keepalive pings (0 = disabled).
	PingInterval time.Duration

	// AllowedOrigins restricts browser origins. Empty allows any.
	AllowedOrigins []string
}

// DefaultWebSocketConfig returns configuration with sensible defaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		Config:         DefaultConfig(),
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 1024 * 1024,
		PingInterval:   30 * time.Second,
	}
}

// WebSocketTransport carries one JSON frame per WebSocket text message.
type WebSocketTransport struct {
	*stream
}

// NewWebSocketTransport wraps an established connection.
func NewWebSocketTransport(conn *websocket.Conn, cfg WebSocketConfig) *WebSocketTransport {
	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	f := &wsFramer{conn: conn, writeTimeout: cfg.WriteTimeout, stop: make(chan struct{})}
	if cfg.PingInterval > 0 {
		go f.keepalive(cfg.PingInterval)
	}
	return &WebSocketTransport{stream: newStream(f, cfg.Config)}
}

// NewWebSocketUpgrader creates an upgrader honouring cfg.AllowedOrigins.
func NewWebSocketUpgrader(cfg WebSocketConfig) *websocket.Upgrader {
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = true
	}
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			return allowed[r.Header.Get("Origin")]
		},
	}
}

type wsFramer struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu       sync.Mutex // gorilla allows one concurrent writer
	stop     chan struct{}
	stopOnce sync.Once
}

func (f *wsFramer) ReadFrame() ([]byte, error) {
	_, data, err := f.conn.ReadMessage()
	return data, err
}

func (f *wsFramer) WriteFrame(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeTimeout > 0 {
		f.conn.SetWriteDeadline(time.Now().Add(f.writeTimeout))
	}
	return f.conn.WriteMessage(websocket.TextMessage, data)
}

func (f *wsFramer) keepalive(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-f.stop:
			return
		case <-ticker.C:
			if err := f.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}
		}
	}
}

func (f *wsFramer) Close() error {
	f.stopOnce.Do(func() { close(f.stop) })
	f.mu.Lock()
	f.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	f.mu.Unlock()
	return f.conn.Close()
}
