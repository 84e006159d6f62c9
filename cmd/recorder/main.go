package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"argus-recorder-go/internal/api"
	"argus-recorder-go/internal/config"
	"argus-recorder-go/internal/logging"
	"argus-recorder-go/internal/metrics"
	"argus-recorder-go/internal/services/manager"
	"argus-recorder-go/internal/services/messaging"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the camera config file")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	// Setup structured logging
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("Invalid log level, using info")
		level = zerolog.InfoLevel
	}
	if *verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	// Tee logs into the embedded Logdy UI when enabled
	if cfg.LogdyEnabled {
		w, _, err := logging.StartLogdy(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to start Logdy UI")
		} else {
			log.Logger = log.Output(zerolog.MultiLevelWriter(zerolog.ConsoleWriter{Out: os.Stderr}, w))
		}
	}

	log.Info().
		Str("recorder_id", cfg.RecorderID).
		Str("version", cfg.Version).
		Int("port", cfg.Port).
		Int("cameras", len(cfg.Cameras)).
		Msg("Starting Argus recorder")

	// Event publishing is optional; recording never depends on the broker
	var msgSvc *messaging.Service
	if cfg.NatsURL != "" {
		msgSvc, err = messaging.NewService(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("NATS unavailable, event publishing disabled")
			msgSvc = nil
		}
	}

	m := metrics.New()
	mgr := manager.New(cfg, m, messaging.NewEvents(msgSvc))

	server, err := api.NewServer(cfg, mgr, m)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create server")
	}

	mgr.Start()

	// Start server in goroutine
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutdown signal received")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Ops API forced to shutdown")
	}

	exitCode := 0
	if err := mgr.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Recording fleet did not shut down cleanly")
		exitCode = 1
	}

	if msgSvc != nil {
		if err := msgSvc.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to drain NATS connection")
		}
	}

	if exitCode != 0 {
		os.Exit(exitCode)
	}
	log.Info().Msg("Shutdown complete")
}
