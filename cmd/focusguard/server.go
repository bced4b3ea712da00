package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/goodtune/focusguard/internal/api"
	"github.com/goodtune/focusguard/internal/clock"
	"github.com/goodtune/focusguard/internal/config"
	"github.com/goodtune/focusguard/internal/host"
	"github.com/goodtune/focusguard/internal/idle"
	"github.com/goodtune/focusguard/internal/metrics"
	"github.com/goodtune/focusguard/internal/policy"
	"github.com/goodtune/focusguard/internal/stats"
	"github.com/goodtune/focusguard/internal/storage"
	"github.com/goodtune/focusguard/internal/storage/memory"
	"github.com/goodtune/focusguard/internal/storage/redis"
	"github.com/goodtune/focusguard/internal/systemd"
	"github.com/goodtune/focusguard/internal/usage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start focusguard server",
	Long:  `Start the tracking engine with the extension bridge, HTTP API, schedule notifier and metrics endpoint.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting focusguard")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("redis_host", cfg.Storage.Redis.Host).
		Int("redis_port", cfg.Storage.Redis.Port).
		Msg("Storage initialized")

	loc, err := cfg.Tracking.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Core engine
	engine := policy.NewEngine(store.KV(), policy.NewMatcher(cfg.Blocking.MatchCacheSize), loc, logger)
	aggregator := stats.NewAggregator(store.KV(), clock.RealClock{}, loc, logger)

	monitor := idle.NewMonitor(store.KV(), logger)
	if err := monitor.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to restore idle state, assuming active")
	}

	registry := host.NewRegistry()
	bridge := host.NewBridge(registry, logger)

	tracker := usage.NewTracker(bridge, engine, aggregator, monitor, usage.Config{
		BlockedPageURL:    cfg.Blocking.BlockedPageURL,
		StrictEnforcement: cfg.Blocking.StrictEnforcement,
	}, logger)

	dispatcher := usage.NewDispatcher(tracker, cfg.Tracking.TickDuration(), cfg.Tracking.EventBuffer, logger)

	logger.Info().
		Str("timezone", loc.String()).
		Dur("tick", cfg.Tracking.TickDuration()).
		Bool("strict_enforcement", cfg.Blocking.StrictEnforcement).
		Msg("Tracking engine initialized")

	// Schedule notifications
	var notifier *usage.ScheduleNotifier
	if cfg.Notifications.Enabled {
		notifier, err = usage.NewScheduleNotifier(engine, store.KV(), bridge, cfg.Notifications.Cron, cfg.Notifications.LeadDuration(), logger)
		if err != nil {
			return fmt.Errorf("failed to initialize schedule notifier: %w", err)
		}
		if err := notifier.Start(); err != nil {
			return err
		}
	}

	// HTTP API and bridge
	apiAddr := net.JoinHostPort(cfg.Server.BindAddress, strconv.Itoa(cfg.Server.APIPort))
	apiServer := api.NewServer(api.Config{
		ListenAddr:     apiAddr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, store.Status(), aggregator, engine, bridge.Handler(dispatcher), logger)

	if sdListeners.Activated && sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	// Metrics
	var metricsServer *metrics.Server
	if cfg.Server.MetricsPort > 0 {
		metricsAddr := net.JoinHostPort(cfg.Server.BindAddress, strconv.Itoa(cfg.Server.MetricsPort))
		metricsServer = metrics.NewServer(metricsAddr, logger)
		if sdListeners.Activated && sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		return systemd.RunWatchdog(gctx, logger)
	})

	// SIGHUP re-checks every open tab, e.g. after schedules were edited in storage
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				logger.Info().Msg("Received SIGHUP, re-checking open tabs")
				err := dispatcher.Submit(gctx, usage.Event{Type: usage.EventSchedulesChanged})
				if err != nil && !errors.Is(err, usage.ErrDispatcherStopped) && !errors.Is(err, context.Canceled) {
					logger.Error().Err(err).Msg("Failed to queue schedule re-check")
				}
			}
		}
	})

	logger.Info().Msg("focusguard startup complete")
	logger.Info().Msgf("Bridge: ws://%s/bridge", apiAddr)
	logger.Info().Msgf("API: http://%s/api/", apiAddr)
	if metricsServer != nil {
		logger.Info().Msgf("Metrics: http://%s:%d/metrics", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	}

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	<-gctx.Done()
	logger.Info().Msg("Shutdown signal received, gracefully stopping...")

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	// Stop taking new events before the dispatcher's final flush completes
	bridge.Close()
	if notifier != nil {
		notifier.Stop()
	}

	runErr := g.Wait()

	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}

	logger.Info().Msg("focusguard stopped")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "redis"
	}

	switch storageType {
	case "redis":
		return redis.Open(cfg.Redis)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// quietLogger is used by the one-shot commands.
func quietLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()
}

// loadEngine opens storage and builds the read-side engine for the one-shot
// commands. The caller closes the store.
func loadEngine(now func() time.Time) (*config.Config, storage.Store, *policy.Engine, *stats.Aggregator, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	loc, err := cfg.Tracking.Location()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	logger := quietLogger()
	clk := funcClock(now)
	engine := policy.NewEngine(store.KV(), policy.NewMatcher(cfg.Blocking.MatchCacheSize), loc, logger)
	engine.SetClock(clk)
	aggregator := stats.NewAggregator(store.KV(), clk, loc, logger)

	return cfg, store, engine, aggregator, nil
}

// funcClock adapts a time source to clock.Clock.
type funcClock func() time.Time

func (f funcClock) Now() time.Time {
	return f()
}
