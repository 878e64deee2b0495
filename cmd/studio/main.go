package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/storefront-studio/internal/config"
	"github.com/tjfontaine/storefront-studio/internal/telemetry"
	"github.com/tjfontaine/storefront-studio/pkg/studio"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	configPath := os.Getenv("STUDIO_CONFIG_FILE")
	if configPath == "" {
		configPath = config.DefaultPath
	}
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize OpenTelemetry
	shutdown, err := telemetry.Setup(cfg.Telemetry.ServiceName, cfg.Telemetry.Tracing, logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	st, err := studio.New(
		studio.WithConfig(cfg),
		studio.WithLogger(logger),
	)
	if err != nil {
		log.Fatalf("Failed to create studio: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := st.Start(ctx); err != nil {
		log.Fatalf("Failed to start studio: %v", err)
	}

	logger.Info("Studio started",
		slog.String("config", configPath),
		slog.String("storage", cfg.Storage.Type),
		slog.Bool("record_transcripts", cfg.Session.RecordTranscripts),
		slog.String("script", cfg.Interview.ScriptPath),
	)

	// Wait for a shutdown signal or a server failure
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() { serveErr <- st.Wait() }()

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, stopping studio...")
	case err := <-serveErr:
		if err != nil {
			logger.Error("server failed", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := st.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Studio shutdown complete")
}
