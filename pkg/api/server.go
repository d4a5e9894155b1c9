// Package api serves the daemon's current values and metrics over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/markus-lassfolk/livedatabus/pkg/lifecycle"
	"github.com/markus-lassfolk/livedatabus/pkg/livedata"
	"github.com/markus-lassfolk/livedatabus/pkg/location"
	"github.com/markus-lassfolk/livedatabus/pkg/logx"
	"github.com/markus-lassfolk/livedatabus/pkg/places"
)

// Config holds API server configuration
type Config struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
	// AuthKey, when set, is required as ?auth= or X-API-Key on /api routes.
	AuthKey string `json:"auth_key"`
}

// DefaultConfig returns the API configuration used by the daemon.
func DefaultConfig() *Config {
	return &Config{Listen: "127.0.0.1:9108"}
}

// Sources are the values the server reports. Nil fields are reported as
// unavailable.
type Sources struct {
	Location  livedata.Observable[location.Sample]
	Formatted livedata.Observable[string]
	Places    livedata.Observable[places.Place]
	Host      lifecycle.Lifecycle
	// Permission reports whether the location permission is granted.
	Permission func() bool
	Metrics    http.Handler
}

// Server is the HTTP API.
type Server struct {
	config    *Config
	sources   Sources
	logger    *logx.Logger
	startTime time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer creates a stopped server.
func NewServer(config *Config, sources Sources, logger *logx.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &Server{config: config, sources: sources, logger: logger, startTime: time.Now()}
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/location", s.authMiddleware(s.handleLocation))
	mux.HandleFunc("/api/places", s.authMiddleware(s.handlePlaces))
	mux.HandleFunc("/api/health", s.handleHealth)
	if s.sources.Metrics != nil {
		mux.Handle("/metrics", s.sources.Metrics)
	}
	return mux
}

// Start listens and serves in the background. It is a no-op when disabled.
func (s *Server) Start() error {
	if !s.config.Enabled {
		s.logger.Debug("API server is disabled")
		return nil
	}

	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("Starting API server", "address", ln.Addr().String())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.AuthKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		key := r.URL.Query().Get("auth")
		if key == "" {
			key = r.Header.Get("X-API-Key")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.config.AuthKey)) != 1 {
			s.logger.Warn("Invalid authentication attempt", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	}
}

type locationResponse struct {
	Sample    location.Sample `json:"sample"`
	Formatted string          `json:"formatted"`
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	sample, ok := value(s.sources.Location)
	if !ok {
		http.Error(w, "No location available", http.StatusServiceUnavailable)
		return
	}
	formatted, ok := value(s.sources.Formatted)
	if !ok {
		formatted = sample.String()
	}
	s.writeJSON(w, locationResponse{Sample: sample, Formatted: formatted})
}

func (s *Server) handlePlaces(w http.ResponseWriter, r *http.Request) {
	place, ok := value(s.sources.Places)
	if !ok {
		http.Error(w, "No place available", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, place)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime_s":  int64(time.Since(s.startTime).Seconds()),
	}
	if s.sources.Host != nil {
		health["host_state"] = s.sources.Host.CurrentState().String()
	}
	if s.sources.Permission != nil {
		health["permission_granted"] = s.sources.Permission()
	}
	s.writeJSON(w, health)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode API response", "error", err)
	}
}

func value[T any](o livedata.Observable[T]) (T, bool) {
	if o == nil {
		var zero T
		return zero, false
	}
	return o.Value()
}
