package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// Handler upgrades HTTP requests to WebSocket sessions on g. The user id
// may be supplied with the "user" query parameter.
func (g *Gateway) Handler(ctx context.Context, cfg WebSocketConfig) http.Handler {
	upgrader := NewWebSocketUpgrader(cfg)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			g.logger.Warn("websocket upgrade failed", map[string]interface{}{"error": err.Error(), "remote": r.RemoteAddr})
			return
		}
		t := NewWebSocketTransport(conn, cfg)
		err = g.Serve(ctx, t, SessionOptions{Source: "websocket", UserID: r.URL.Query().Get("user")})
		if err != nil {
			g.logger.Debug("websocket session ended", map[string]interface{}{"error": err.Error()})
		}
	})
}

// Server serves the gateway over HTTP.
type Server struct {
	http *http.Server
	ln   net.Listener
}

// Listen binds addr and mounts the WebSocket endpoint at path, plus a
// /healthz probe.
func (g *Gateway) Listen(ctx context.Context, addr, path string, cfg WebSocketConfig) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle(path, g.Handler(ctx, cfg))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return &Server{
		http: &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		ln:   ln,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Serve blocks until Shutdown.
func (s *Server) Serve() error {
	if err := s.http.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections. Hijacked WebSocket connections
// end when the context passed to Listen is cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
