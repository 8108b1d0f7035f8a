// Package api provides the HTTP diagnostics surface: aggregate component
// statistics, health, and Prometheus metrics. The server is optional and
// read-only; nothing the subsystem does depends on it.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/showgrid/showgrid/internal/health"
)

var log = logging.Logger("api")

// ServerConfig configures the diagnostics server
type ServerConfig struct {
	// Address to bind the server to (e.g., "localhost:8090")
	Address string `yaml:"address" json:"address"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// WriteTimeout is the maximum duration for writing the response
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// IdleTimeout is the maximum duration to wait for the next request
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// EnableCORS enables Cross-Origin Resource Sharing
	EnableCORS bool `yaml:"enable_cors" json:"enable_cors"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "localhost:8090",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		EnableCORS:   true,
	}
}

// Hooks connect the server to the components it reports on. A nil hook
// leaves its endpoint unconfigured.
type Hooks struct {
	// Stats returns the aggregate statistics document.
	Stats func() interface{}

	// Health returns the current health snapshot.
	Health func() *health.Snapshot

	// Metrics serves the Prometheus registry.
	Metrics http.Handler
}

// Server serves the diagnostics endpoints
type Server struct {
	httpServer *http.Server
	hooks      Hooks
	config     ServerConfig
}

// NewServer creates a new diagnostics server. Zero config fields fall
// back to the defaults.
func NewServer(config ServerConfig, hooks Hooks) *Server {
	defaults := DefaultServerConfig()
	if config.Address == "" {
		config.Address = defaults.Address
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}

	s := &Server{
		hooks:  hooks,
		config: config,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/health/live", s.handleLiveness)
	mux.HandleFunc("/api/v1/health/ready", s.handleReadiness)
	mux.HandleFunc("/api/v1/info", s.handleInfo)
	if hooks.Metrics != nil {
		mux.Handle("/metrics", hooks.Metrics)
	}

	handler := s.loggingMiddleware(mux)
	if config.EnableCORS {
		handler = s.corsMiddleware(handler)
	}

	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

// Start starts the HTTP server and blocks until it shuts down
func (s *Server) Start() error {
	log.Infow("diagnostics server listening", "address", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// StartBackground starts the server in a background goroutine
func (s *Server) StartBackground() {
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			log.Errorw("diagnostics server failed", "error", err)
		}
	}()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Debugw("diagnostics server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the composed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Endpoint handlers

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.hooks.Stats == nil {
		s.respondError(w, http.StatusServiceUnavailable, "stats not configured")
		return
	}

	s.respondJSON(w, http.StatusOK, s.hooks.Stats())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.hooks.Health == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"status": string(health.StatusUnknown),
			"note":   "health checking not configured",
		})
		return
	}

	snapshot := s.hooks.Health()

	statusCode := http.StatusOK
	switch snapshot.Status {
	case health.StatusUnhealthy:
		statusCode = http.StatusServiceUnavailable
	case health.StatusDegraded:
		statusCode = http.StatusPartialContent
	}

	s.respondJSON(w, statusCode, snapshot)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"alive":     true,
		"timestamp": time.Now(),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ready := true
	status := health.StatusUnknown
	if s.hooks.Health != nil {
		snapshot := s.hooks.Health()
		status = snapshot.Status
		ready = snapshot.Status != health.StatusUnhealthy
	}

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}

	s.respondJSON(w, statusCode, map[string]interface{}{
		"ready":     ready,
		"status":    string(status),
		"timestamp": time.Now(),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	endpoints := []string{
		"/api/v1/stats",
		"/api/v1/health",
		"/api/v1/health/live",
		"/api/v1/health/ready",
		"/api/v1/info",
	}
	if s.hooks.Metrics != nil {
		endpoints = append(endpoints, "/metrics")
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service":   "showgrid diagnostics",
		"timestamp": time.Now(),
		"endpoints": endpoints,
	})
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debugw("request served",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Helper methods

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Debugw("response encode failed", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, map[string]interface{}{
		"error":     message,
		"timestamp": time.Now(),
	})
}
