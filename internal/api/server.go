package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/focusguard/internal/policy"
	"github.com/goodtune/focusguard/internal/stats"
	"github.com/goodtune/focusguard/internal/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Config holds the API server configuration.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
}

// Server represents the HTTP API server. It also carries the extension
// bridge at /bridge.
type Server struct {
	config    Config
	store     storage.StatusStore
	stats     *stats.Aggregator
	policy    *policy.Engine
	bridge    http.Handler
	server    *http.Server
	router    *mux.Router
	listener  net.Listener // Optional pre-created listener (for systemd socket activation)
	startTime time.Time
	logger    zerolog.Logger
}

// NewServer creates a new API server. bridge may be nil.
func NewServer(cfg Config, store storage.StatusStore, aggregator *stats.Aggregator, engine *policy.Engine, bridge http.Handler, logger zerolog.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{
		config:    cfg,
		store:     store,
		stats:     aggregator,
		policy:    engine,
		bridge:    bridge,
		router:    router,
		startTime: time.Now(),
		logger:    logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))
	if len(s.config.AllowedOrigins) > 0 {
		s.router.Use(CORSMiddleware(s.config.AllowedOrigins))
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	if s.bridge != nil {
		s.router.Handle("/bridge", s.bridge).Methods("GET")
	}

	statusHandler := NewStatusHandler(s.store, s.logger)
	s.router.HandleFunc("/api/", statusHandler.Root).Methods("GET")
	s.router.HandleFunc("/api/status", statusHandler.List).Methods("GET")
	s.router.HandleFunc("/api/status", statusHandler.Create).Methods("POST", "OPTIONS")

	// Fixed paths are registered ahead of /api/stats/{day}
	statsHandler := NewStatsHandler(s.stats, s.policy, s.logger)
	s.router.HandleFunc("/api/stats", statsHandler.Range).Methods("GET")
	s.router.HandleFunc("/api/stats/today", statsHandler.Today).Methods("GET")
	s.router.HandleFunc("/api/stats/saved-time/reset", statsHandler.ResetSavedTime).Methods("POST", "OPTIONS")
	s.router.HandleFunc("/api/stats/{day}", statsHandler.GetDay).Methods("GET")

	schedulesHandler := NewSchedulesHandler(s.policy, s.logger)
	s.router.HandleFunc("/api/schedules", schedulesHandler.List).Methods("GET")
	s.router.HandleFunc("/api/check", schedulesHandler.Check).Methods("GET")
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting API server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.startTime)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(uptime.Seconds()),
	})
}
