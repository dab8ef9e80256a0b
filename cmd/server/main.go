package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/audio"
	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/broadcast"
	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/config"
	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/engine"
	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/metrics"
	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/server"
	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/session"
	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/store"
	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/summary"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "neurobridge-transcription"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load .env if present; real environment variables still win
	godotenv.Load()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg.ApplyEnv()

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("listen_address", cfg.HTTP.Addr()),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Float64("chunk_duration", cfg.Audio.ChunkDuration),
		slog.Float64("overlap_duration", cfg.Audio.OverlapDuration),
		slog.Bool("gate_enabled", cfg.Gate.Enabled),
		slog.String("engine_endpoint", cfg.Engine.Endpoint),
		slog.Bool("store_enabled", cfg.Store.Enabled),
		slog.Bool("summary_enabled", cfg.Summary.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Initialize session archive
	storePath := ""
	if cfg.Store.Enabled {
		storePath = cfg.Store.Path
	}
	archive, err := store.Open(ctx, storePath, logger)
	if err != nil {
		logger.Error("Failed to open session archive", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer archive.Close()
	logger.Info("Session archive initialized",
		slog.Bool("enabled", archive.Enabled()),
		slog.String("path", storePath),
	)

	// Initialize recognition engine client
	engineClient, err := engine.NewHTTPClient(engine.Config{
		Endpoint:      cfg.Engine.Endpoint,
		APIKey:        cfg.Engine.APIKey,
		Language:      cfg.Engine.Language,
		Model:         cfg.Engine.Model,
		Timeout:       cfg.Engine.GetTimeout(),
		MaxRetries:    cfg.Engine.MaxRetries,
		MaxConcurrent: cfg.Engine.MaxConcurrent,
	})
	if err != nil {
		logger.Error("Failed to create recognition engine client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer engineClient.Close()
	logger.Info("Recognition engine client initialized",
		slog.String("endpoint", cfg.Engine.Endpoint),
	)

	// Initialize event broadcaster
	broadcaster := broadcast.NewBroadcaster(broadcast.Config{
		KeepaliveInterval: cfg.Broadcast.GetKeepaliveInterval(),
		SubscriberBuffer:  cfg.Broadcast.SubscriberBuffer,
	}, appMetrics, logger)

	// Initialize session manager
	manager := session.NewManager(session.ManagerConfig{
		Settings: session.Settings{
			Assembler: audio.AssemblerConfig{
				ChunkDuration:   cfg.Audio.GetChunkDuration(),
				OverlapDuration: cfg.Audio.GetOverlapDuration(),
				SampleRate:      cfg.Audio.SampleRate,
			},
			Gate: audio.GateConfig{
				Enabled:        cfg.Gate.Enabled,
				PeakThreshold:  cfg.Gate.PeakThreshold,
				RMSThreshold:   cfg.Gate.RMSThreshold,
				MinActiveRatio: cfg.Gate.MinActiveRatio,
				AlwaysFlush:    cfg.Gate.AlwaysFlush,
			},
			QueueSize:        cfg.Session.QueueSize,
			RecognizeTimeout: cfg.Engine.GetTimeout(),
			OutageCeiling:    cfg.Session.GetOutageCeiling(),
		},
		IdleTimeout:   cfg.Session.GetIdleTimeout(),
		SweepInterval: cfg.Session.GetSweepInterval(),
	}, engineClient, broadcaster, archive, appMetrics, logger)
	logger.Info("Session manager initialized",
		slog.Duration("idle_timeout", cfg.Session.GetIdleTimeout()),
		slog.Duration("sweep_interval", cfg.Session.GetSweepInterval()),
	)

	// Initialize summarizer
	var summarizer summary.Summarizer = summary.Disabled{}
	if cfg.Summary.Enabled {
		s, err := summary.NewOpenAISummarizer(summary.Config{
			APIKey:    cfg.Summary.APIKey,
			Model:     cfg.Summary.Model,
			Timeout:   cfg.Summary.GetTimeout(),
			MaxTokens: cfg.Summary.MaxTokens,
		}, logger)
		if err != nil {
			logger.Error("Failed to create summarizer", slog.String("error", err.Error()))
			os.Exit(1)
		}
		summarizer = s
		logger.Info("Summarizer initialized", slog.String("model", cfg.Summary.Model))
	}

	// Initialize and start the HTTP API server
	httpServer := server.NewHTTPServer(cfg, logger, manager, broadcaster, archive, summarizer, appMetrics)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("address", cfg.HTTP.Addr()),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.GetShutdownTimeout())
	defer shutdownCancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// End all sessions and wait for their final units to drain
	manager.Stop()

	// Close event streams last so subscribers see the terminal events
	broadcaster.Close()

	// Final statistics
	engineStats := engineClient.GetStats()
	logger.Info("Final service statistics",
		slog.Uint64("recognition_requests", engineStats.TotalRequests),
		slog.Uint64("recognition_successes", engineStats.SuccessRequests),
		slog.Uint64("recognition_failures", engineStats.FailedRequests),
		slog.Uint64("recognition_retries", engineStats.TotalRetries),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
