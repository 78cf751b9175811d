package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"vidaa-home/internal/bridge"
)

// Backend is the bridge surface the HTTP layer drives. *bridge.Bridge
// implements it; tests substitute a fake.
type Backend interface {
	Devices() []bridge.DeviceInfo
	Info(name string) (bridge.DeviceInfo, bool)
	Command(name string, payload []byte) error
	Pair(ctx context.Context, name string) (bool, error)
	SubmitPin(ctx context.Context, name, pin string) (bool, error)
	Wake(name string) error
	Events() *bridge.EventBus
}

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithVersion sets the application version string reported by the API.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// Server is the JSON status and control API for the bridge daemon.
type Server struct {
	backend        Backend
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	version        string
	wg             sync.WaitGroup
	unsubEvents    func()
}

// NewServer creates a new API server on top of the bridge backend.
func NewServer(backend Backend, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		backend: backend,
		logger:  logger,
		mux:     http.NewServeMux(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	// Subscribe to all bridge events and broadcast via WebSocket
	s.unsubEvents = backend.Events().OnAll(func(event bridge.Event) {
		s.wsHub.Broadcast(event)
	})

	s.routes()
	return s
}

// Stop gracefully shuts down the WebSocket hub and waits for goroutines.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/devices", s.handleAPIListDevices)
	s.mux.HandleFunc("GET /api/devices/{name}", s.handleAPIGetDevice)
	s.mux.HandleFunc("POST /api/devices/{name}/command", s.handleAPICommand)
	s.mux.HandleFunc("POST /api/devices/{name}/pair", s.handleAPIPair)
	s.mux.HandleFunc("POST /api/devices/{name}/pin", s.handleAPIPin)
	s.mux.HandleFunc("POST /api/devices/{name}/wake", s.handleAPIWake)
	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	// WebSocket
	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying auth and CORS middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS: check Origin on mutating requests to prevent CSRF.
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				// Preflight request.
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	if s.apiKey != "" {
		// Only require API key for /api/ endpoints. The WebSocket upgrade is
		// not API-key-protected because browsers cannot send custom headers
		// on the upgrade request; it is guarded by the origin check instead.
		if strings.HasPrefix(r.URL.Path, "/api/") {
			key := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
	}
	s.mux.ServeHTTP(w, r)
}

// isOriginAllowed checks if the origin matches any allowed origin pattern.
func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
