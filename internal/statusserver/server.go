// Package statusserver exposes a read-only status/health HTTP server for
// one participant's (or the coordinator's) driver, grounded on
// interfaces/http/server.go's mux.Router + middleware-stack shape,
// generalized from CryptoRun's candidates/explain/regime endpoints to
// /healthz, /status and /metrics.
package statusserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/fednorm/fednorm/internal/metrics"
	"github.com/fednorm/fednorm/internal/protocol"
)

// StatusProvider is satisfied by protocol.Driver: enough to report the
// current state without the status server depending on Driver directly.
type StatusProvider interface {
	State() protocol.State
}

// Server is a local-only HTTP server reporting a driver's run status and
// exposing Prometheus metrics.
type Server struct {
	router  *mux.Router
	server  *http.Server
	driver  StatusProvider
	metrics *metrics.Registry

	runID         uuid.UUID
	participantID string
	startedAt     time.Time
}

// Config parameterizes the listener.
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns sane local-only defaults.
func DefaultConfig() Config {
	return Config{
		Host:         "127.0.0.1",
		Port:         9090,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// New builds a Server bound to cfg. The listener is opened eagerly so a
// busy port fails fast instead of inside Start.
func New(cfg Config, driver StatusProvider, reg *metrics.Registry, runID uuid.UUID, participantID string) (*Server, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("port %d is busy or unavailable: %w", cfg.Port, err)
	}
	listener.Close()

	s := &Server{
		router:        mux.NewRouter(),
		driver:        driver,
		metrics:       reg,
		runID:         runID,
		participantID: participantID,
		startedAt:     time.Now(),
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("status server request")
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"run_id":         s.runID.String(),
		"participant_id": s.participantID,
		"state":          string(s.driver.State()),
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
	})
}

// Start runs the server until it is shut down. Intended to be run in its
// own goroutine alongside Driver.Run.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("status server listening")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
