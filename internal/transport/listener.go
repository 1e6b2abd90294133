package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Handler serves one accepted connection. The connection is closed and
// its session released when Handler returns.
type Handler func(ctx context.Context, conn *Conn)

// Listener accepts websocket sessions keyed by their X-Device-Id.
type Listener struct {
	handler  Handler
	settings *settings
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*Conn
}

// NewListener returns a Listener that runs handler for each session.
func NewListener(handler Handler, opts ...Option) *Listener {
	s := newSettings(opts)
	return &Listener{
		handler:  handler,
		settings: s,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: s.handshakeTimeout,
			// Peers are native apps, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*Conn),
	}
}

// ServeHTTP implements http.Handler.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := l.settings.logger
	h, err := ParseHeaders(r.Header)
	if err != nil {
		logger.Warn("connection rejected: missing device headers", slog.String("remote", r.RemoteAddr))
		writeError(w, http.StatusBadRequest, errorBody{
			Error: "Missing " + HeaderDeviceID + " or " + HeaderDevicePlatform + " header",
		})
		return
	}

	if !h.ForceRegister {
		if _, ok := l.Session(h.DeviceID); ok {
			logger.Warn("duplicate registration rejected",
				slog.String("device_id", h.DeviceID),
				slog.String("platform", h.Platform),
				slog.String("remote", r.RemoteAddr))
			writeError(w, http.StatusConflict, errorBody{
				Error:    "Device already connected",
				DeviceID: h.DeviceID,
				Message:  "Another connection with this device ID is already active. Use " + HeaderForceRegister + ": true to take it over.",
			})
			return
		}
	}

	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("upgrade failed", slog.Any("error", err))
		return
	}
	conn := newConn(ws, h, l.settings)

	if !l.register(conn) {
		// Lost a race with another session for the same id.
		_ = conn.closeWith(websocket.ClosePolicyViolation, "device already connected")
		return
	}
	defer l.release(conn)

	logger.Info("session registered",
		slog.String("device_id", h.DeviceID),
		slog.String("platform", h.Platform),
		slog.String("client", h.ClientVersion),
		slog.Bool("force_register", h.ForceRegister))

	l.handler(r.Context(), conn)
}

func (l *Listener) register(conn *Conn) bool {
	id := conn.headers.DeviceID

	l.mu.Lock()
	old, exists := l.sessions[id]
	if exists && !conn.headers.ForceRegister {
		l.mu.Unlock()
		return false
	}
	l.sessions[id] = conn
	l.mu.Unlock()

	if exists {
		l.settings.logger.Info("session taken over", slog.String("device_id", id))
		_ = old.closeWith(websocket.CloseNormalClosure, "session replaced")
	}
	return true
}

func (l *Listener) release(conn *Conn) {
	l.mu.Lock()
	if l.sessions[conn.headers.DeviceID] == conn {
		delete(l.sessions, conn.headers.DeviceID)
	}
	l.mu.Unlock()
	_ = conn.Close()
}

// Session returns the live connection registered under deviceID.
func (l *Listener) Session(deviceID string) (*Conn, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	conn, ok := l.sessions[deviceID]
	return conn, ok
}

// Len returns the number of live sessions.
func (l *Listener) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

// CloseAll closes every live session.
func (l *Listener) CloseAll() {
	l.mu.Lock()
	conns := make([]*Conn, 0, len(l.sessions))
	for _, c := range l.sessions {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	for _, c := range conns {
		_ = c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
}

// Serve accepts connections on ln until ctx is cancelled.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           l,
		ReadHeaderTimeout: l.settings.handshakeTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		l.CloseAll()
	}()

	l.settings.logger.Info("listening", slog.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (l *Listener) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return l.Serve(ctx, ln)
}
