// Package gateway provides an optional local control-plane: a WebSocket
// endpoint that streams agent run/tool events and bus broadcasts to
// connected clients (a CLI status view, a local dashboard), plus a small
// HTTP status surface. It does not carry any multi-tenant CRUD API — this
// is a single-agent runtime (SPEC_FULL.md §4.14).
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skyefall/nanobot/internal/agent"
	"github.com/skyefall/nanobot/internal/bus"
	"github.com/skyefall/nanobot/internal/channels"
	"github.com/skyefall/nanobot/internal/config"
	"github.com/skyefall/nanobot/internal/store"
	"github.com/skyefall/nanobot/internal/tools"
)

// Frame is one message pushed to a connected WebSocket client.
type Frame struct {
	Event     string      `json:"event"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Server hosts the WebSocket event stream and a minimal HTTP status API.
type Server struct {
	cfg      *config.GatewayConfig
	eventPub bus.EventPublisher
	loop     *agent.Loop
	sessions store.SessionStore
	tools    *tools.Registry

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client

	pairing channels.PairingService

	httpServer *http.Server
}

// SetPairingService wires the pairing service so the CLI's `channels login`
// command can approve a code on the running gateway process via HTTP — the
// pairing ledger is in-memory and only lives inside the gateway process.
func (s *Server) SetPairingService(p channels.PairingService) {
	s.pairing = p
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan Frame
}

// NewServer builds a gateway Server. sessions/toolsReg are optional (nil
// omits the corresponding field from /status).
func NewServer(cfg *config.GatewayConfig, eventPub bus.EventPublisher, loop *agent.Loop, sessions store.SessionStore, toolsReg *tools.Registry) *Server {
	s := &Server{
		cfg:      cfg,
		eventPub: eventPub,
		loop:     loop,
		sessions: sessions,
		tools:    toolsReg,
		clients:  make(map[string]*client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin validates the WebSocket origin against the allow list; an
// empty list allows all origins (local/dev default), and a non-browser
// client (no Origin header, e.g. a CLI) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("gateway: rejected websocket origin", "origin", origin)
	return false
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}
	got := r.Header.Get("Authorization")
	return got == "Bearer "+s.cfg.Token || r.URL.Query().Get("token") == s.cfg.Token
}

func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/pairing/approve", s.handlePairingApprove)
	return mux
}

// Start runs the HTTP+WebSocket server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.mux()}

	slog.Info("gateway: starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway: listen: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	status := map[string]interface{}{
		"status": "ok",
	}
	if s.loop != nil {
		status["agent_id"] = s.loop.ID()
		status["model"] = s.loop.Model()
	}
	if s.sessions != nil {
		status["sessions"] = len(s.sessions.List())
	}
	if s.tools != nil {
		status["tools"] = s.tools.List()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

// handlePairingApprove approves a pending pairing code, unblocking the
// sender's messages on whichever channel requested it. Backs `channels login`.
func (s *Server) handlePairingApprove(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.pairing == nil {
		http.Error(w, "pairing not configured", http.StatusNotImplemented)
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}
	if err := s.pairing.Approve(req.Code); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"approved"}`))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("gateway: websocket upgrade failed", "error", err)
		return
	}

	c := &client{id: r.RemoteAddr + "-" + time.Now().Format("150405.000"), conn: conn, send: make(chan Frame, 64)}
	s.registerClient(c)
	defer s.unregisterClient(c)

	go s.writeLoop(c)
	s.readLoop(c)
}

func (s *Server) readLoop(c *client) {
	defer close(c.send)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(c *client) {
	defer c.conn.Close()
	for frame := range c.send {
		if err := c.conn.WriteJSON(frame); err != nil {
			return
		}
	}
}

func (s *Server) registerClient(c *client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	if s.eventPub != nil {
		s.eventPub.Subscribe(c.id, func(event bus.Event) {
			if strings.HasPrefix(event.Name, "cache.") {
				return
			}
			s.send(c, Frame{Event: event.Name, Payload: event.Payload, Timestamp: time.Now()})
		})
	}
	slog.Info("gateway: client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	if s.eventPub != nil {
		s.eventPub.Unsubscribe(c.id)
	}
	slog.Info("gateway: client disconnected", "id", c.id)
}

func (s *Server) send(c *client, f Frame) {
	select {
	case c.send <- f:
	default:
		slog.Warn("gateway: client send buffer full, dropping frame", "client", c.id)
	}
}

// Broadcast pushes an agent-loop event to every connected client, wiring
// agent.Loop's OnEvent callback into the WebSocket stream.
func (s *Server) Broadcast(event agent.AgentEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		s.send(c, Frame{Event: "agent." + event.Type, Payload: event, Timestamp: time.Now()})
	}
}
