// Package relay exposes the ephemeral store over websockets so browser
// clients can exchange operations, cursors and presence in real time. Each
// connection is scoped to one canvas and may only touch paths under it.
package relay

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/arialgardner/techno-canvas/internal/remote"
)

// Config holds the server's dependencies.
type Config struct {
	Store  remote.EphemeralStore
	Logger zerolog.Logger

	// HealthCheck, when set, is consulted by the health endpoint in
	// addition to the server's own liveness.
	HealthCheck func(ctx context.Context) error
}

// Server routes websocket connections onto the ephemeral store.
type Server struct {
	store    remote.EphemeralStore
	log      zerolog.Logger
	health   func(ctx context.Context) error
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*Client
}

// NewServer creates a relay server.
func NewServer(cfg Config) *Server {
	return &Server{
		store:  cfg.Store,
		log:    cfg.Logger,
		health: cfg.HealthCheck,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from arbitrary origins during
			// development. TODO: restrict origins once the frontend host
			// list is settled.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]*Client),
	}
}

// Router returns the HTTP routes the server exposes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws/{canvasID}", s.handleWebSocket).Methods(http.MethodGet)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.log.Warn().Err(err).Msg("health check failed")
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)

			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	canvasID := mux.Vars(r)["canvasID"]
	if canvasID == "" {
		http.Error(w, "missing canvas id", http.StatusBadRequest)

		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")

		return
	}

	clientID := uuid.New().String()
	client := NewClient(clientID, canvasID, conn, s.store, s.log)

	s.mu.Lock()
	s.clients[clientID] = client
	s.mu.Unlock()

	s.log.Info().Str("client_id", clientID).Str("canvas_id", canvasID).
		Msg("client connected")

	client.Run(r.Context())

	s.mu.Lock()
	delete(s.clients, clientID)
	s.mu.Unlock()

	s.log.Info().Str("client_id", clientID).Msg("client disconnected")
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.clients)
}
