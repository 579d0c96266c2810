// ABOUTME: Link server hosted by the gateway process.
// ABOUTME: Accepts local WebSocket connections, dispatches subject handlers, supports push and broadcast.

package link

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNoHandler indicates a request arrived for an unregistered subject.
var ErrNoHandler = errors.New("no handler for subject")

// Handler processes one request frame. The returned value is marshaled into
// the response payload; a returned error becomes the response error string.
// Handlers may hold on to conn to push follow-up frames after replying.
type Handler func(ctx context.Context, conn *Conn, payload json.RawMessage) (any, error)

// Conn is one live link connection. Writes are serialized; gorilla/websocket
// allows a single concurrent writer.
type Conn struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	closed bool
}

// Push sends a fire-and-forget frame to this connection.
func (c *Conn) Push(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling push payload: %w", err)
	}
	return c.write(&Frame{Type: TypePush, Subject: subject, Payload: data})
}

func (c *Conn) respond(id, subject string, payload any, handlerErr error) error {
	f := &Frame{Type: TypeResponse, ID: id, Subject: subject}
	if handlerErr != nil {
		f.Error = handlerErr.Error()
	} else {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshaling response payload: %w", err)
		}
		f.Payload = data
	}
	return c.write(f)
}

func (c *Conn) write(f *Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	return c.ws.WriteJSON(f)
}

func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.ws.Close()
	}
}

// Server hosts the gateway side of the link.
type Server struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	handlers map[string]Handler
	conns    map[*Conn]struct{}

	// lifetime bounds handler execution. net/http cancels r.Context() as
	// soon as the upgrade handler returns the hijacked connection, so
	// dispatched handlers must not inherit it.
	ctxMu    sync.Mutex
	lifetime context.Context

	httpServer *http.Server
}

// NewServer creates a link server. Pass nil logger for the default.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger: logger.With("component", "link"),
		upgrader: websocket.Upgrader{
			// The link is loopback-only; no cross-origin guard needed.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		handlers: make(map[string]Handler),
		conns:    make(map[*Conn]struct{}),
		lifetime: context.Background(),
	}
}

// Handle registers the handler for a subject, replacing any existing one.
func (s *Server) Handle(subject string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[subject] = h
}

// Broadcast pushes a frame to every live connection.
func (s *Server) Broadcast(subject string, payload any) {
	s.mu.RLock()
	targets := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	for _, c := range targets {
		if err := c.Push(subject, payload); err != nil {
			s.logger.Debug("broadcast push failed", "subject", subject, "error", err)
		}
	}
}

// Serve listens on addr until ctx is cancelled. The listener is expected to
// be a loopback address; the link carries no authentication.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("link listen on %s: %w", addr, err)
	}

	s.ctxMu.Lock()
	s.lifetime = ctx
	s.ctxMu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/link", s.handleUpgrade)

	s.httpServer = &http.Server{Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	s.logger.Info("link server listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
		s.closeAll()
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("link upgrade failed", "error", err)
		return
	}

	conn := &Conn{ws: ws}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	s.logger.Debug("link peer connected", "remote", r.RemoteAddr)
	go s.readLoop(s.lifetimeContext(), conn)
}

func (s *Server) lifetimeContext() context.Context {
	s.ctxMu.Lock()
	defer s.ctxMu.Unlock()
	return s.lifetime
}

func (s *Server) readLoop(ctx context.Context, conn *Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.close()
	}()

	for {
		var f Frame
		if err := conn.ws.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("link read ended", "error", err)
			}
			return
		}
		if f.Type != TypeRequest {
			continue
		}
		go s.dispatch(ctx, conn, f)
	}
}

// dispatch runs one handler. Handler panics and errors are confined to the
// failing request; the connection and sibling requests continue.
func (s *Server) dispatch(ctx context.Context, conn *Conn, f Frame) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("link handler panic", "subject", f.Subject, "panic", r)
			conn.respond(f.ID, f.Subject, nil, fmt.Errorf("internal error"))
		}
	}()

	s.mu.RLock()
	h, ok := s.handlers[f.Subject]
	s.mu.RUnlock()

	if !ok {
		conn.respond(f.ID, f.Subject, nil, ErrNoHandler)
		return
	}

	result, err := h(ctx, conn, f.Payload)
	if err != nil {
		s.logger.Warn("link handler error", "subject", f.Subject, "error", err)
	}
	if werr := conn.respond(f.ID, f.Subject, result, err); werr != nil {
		s.logger.Debug("link response write failed", "subject", f.Subject, "error", werr)
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.close()
		delete(s.conns, c)
	}
}
