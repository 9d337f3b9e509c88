// Package gateway exposes the assistant over HTTP: an OpenAI-compatible
// chat completion endpoint with optional SSE streaming, session history
// and clearing, health and metrics, and a WebSocket feed of agent
// lifecycle events.
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/luoluoluo22/ai-assistant/internal/observability"
	"github.com/luoluoluo22/ai-assistant/pkg/agent"
	"github.com/luoluoluo22/ai-assistant/pkg/session"
)

// Agent is the backend the gateway drives. *agent.Orchestrator satisfies it.
type Agent interface {
	HandleMessage(ctx context.Context, sessionID, message string, opts *agent.Options, emitter agent.Emitter) (string, error)
	History(ctx context.Context, sessionID string) ([]session.Turn, error)
	Clear(ctx context.Context, sessionID string) error
}

// Config holds gateway server configuration.
type Config struct {
	Host        string
	Port        int
	APIKey      string
	CORSOrigins []string
	Model       string // reported in SSE chunks when the request has none
	Agent       Agent
	Logger      zerolog.Logger
}

// Server is the HTTP gateway.
type Server struct {
	addr        string
	apiKey      string
	corsOrigins []string
	model       string
	agent       Agent
	logger      zerolog.Logger

	server      *http.Server
	upgrader    websocket.Upgrader
	clients     *ClientRegistry
	broadcaster *EventBroadcaster

	shutdownMu     sync.RWMutex
	isShuttingDown bool
	inFlight       sync.WaitGroup
}

// NewServer creates a gateway server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Agent == nil {
		return nil, fmt.Errorf("agent backend is required")
	}

	clients := NewClientRegistry()

	s := &Server{
		addr:        net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		apiKey:      cfg.APIKey,
		corsOrigins: cfg.CORSOrigins,
		model:       cfg.Model,
		agent:       cfg.Agent,
		logger:      cfg.Logger,
		clients:     clients,
		broadcaster: NewEventBroadcaster(clients, cfg.Logger),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	return s, nil
}

// Handler returns the gateway's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat/completions", s.requireAuth(s.handleChatCompletions))
	mux.HandleFunc("DELETE /api/v1/chat/session/{session_id}", s.requireAuth(s.handleClearSession))
	mux.HandleFunc("GET /api/v1/chat/sessions/{session_id}/history", s.requireAuth(s.handleSessionHistory))
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.Handle("GET /metrics", observability.MetricsHandler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return s.withCORS(s.trackInFlight(mux))
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.logger.Info().Str("addr", s.addr).Msg("Starting gateway server")

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Stop gracefully shuts the server down: new requests are refused, bounded
// time is given to in-flight requests, WebSocket clients are closed.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")

	s.broadcaster.Broadcast("server.shutdown", "", map[string]interface{}{
		"message": "Server is shutting down",
	})

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown drain timeout reached, forcing close")
	}

	for _, client := range s.clients.GetAll() {
		_ = client.Conn.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

// Broadcaster exposes the event broadcaster for wiring emitters.
func (s *Server) Broadcaster() *EventBroadcaster {
	return s.broadcaster
}

// ConnectedClients returns the current WebSocket subscribers.
func (s *Server) ConnectedClients() []ClientInfo {
	return s.clients.ConnectedClients()
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

func (s *Server) trackInFlight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.shuttingDown() {
			writeEnvelope(w, http.StatusServiceUnavailable, Envelope{
				Code:    CodeInternal,
				Message: "server is shutting down",
			})
			return
		}
		s.inFlight.Add(1)
		defer s.inFlight.Done()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.corsOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// handleWebSocket upgrades an authenticated connection into the event
// feed. The feed is broadcast-only; inbound frames only keep the
// connection alive.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "a valid API key is required", http.StatusForbidden)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  time.Now(),
		LastActivity: time.Now(),
		IPAddress:    r.RemoteAddr,
	}
	s.clients.Add(client)

	s.logger.Info().Str("clientId", clientID).Str("ip", r.RemoteAddr).Msg("Feed client connected")

	go s.readClient(client)
}

func (s *Server) readClient(client *Client) {
	defer func() {
		_ = client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("clientId", client.ID).Msg("Feed client disconnected")
	}()

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Str("clientId", client.ID).Msg("WebSocket read error")
			}
			return
		}
		s.clients.UpdateActivity(client.ID)
	}
}
