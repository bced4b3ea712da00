package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Accounting metrics
	SiteSecondsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "focusguard_site_seconds_total",
			Help: "Total browsing seconds attributed to sites",
		},
	)

	SavedSecondsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "focusguard_saved_seconds_total",
			Help: "Total seconds accrued while a blocking schedule was in force",
		},
	)

	// Enforcement metrics
	BlocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focusguard_blocks_total",
			Help: "Total block enforcement events",
		},
		[]string{"schedule"},
	)

	RedirectFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "focusguard_redirect_failures_total",
			Help: "Redirects to the blocked page that the host could not perform",
		},
	)

	// Tracking metrics
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "focusguard_active_sessions",
			Help: "Number of tabs currently being timed",
		},
	)

	EventsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focusguard_events_processed_total",
			Help: "Host events processed by the dispatcher",
		},
		[]string{"type"},
	)

	EventDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "focusguard_event_duration_seconds",
			Help:    "Time spent handling a dispatcher event",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"type"},
	)

	StoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focusguard_store_errors_total",
			Help: "Store failures surfaced to event handlers",
		},
		[]string{"operation"},
	)

	// Host bridge metrics
	BridgeClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "focusguard_bridge_clients",
			Help: "Number of connected extension bridges",
		},
	)

	NotificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focusguard_notifications_sent_total",
			Help: "Schedule notifications sent to the host",
		},
		[]string{"kind"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		SiteSecondsTotal,
		SavedSecondsTotal,
		BlocksTotal,
		RedirectFailuresTotal,
		ActiveSessions,
		EventsProcessed,
		EventDuration,
		StoreErrorsTotal,
		BridgeClients,
		NotificationsSent,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Handler exposes the server's routes, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			// Create and bind listener ourselves
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
