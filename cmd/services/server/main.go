package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labtasker/labtasker/internal/platform/config"
	"github.com/labtasker/labtasker/internal/platform/logger"
	"github.com/labtasker/labtasker/internal/platform/telemetry"
	"github.com/labtasker/labtasker/internal/taskqueue/server"
)

func main() {
	// Initialize configuration
	cfg, err := config.Load("labtasker")
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// Initialize logger
	log := logger.New(cfg.Logger)
	log.Info("starting task queue service", "version", cfg.Version, "port", cfg.HTTP.Port)

	// Initialize telemetry
	tel, err := telemetry.New(telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		Version:        cfg.Version,
		Environment:    cfg.Service.Environment,
		JaegerEndpoint: cfg.Telemetry.JaegerEndpoint,
		Enabled:        cfg.Telemetry.TracingEnabled,
	})
	if err != nil {
		log.Fatal("failed to initialize telemetry", "error", err)
	}

	// Create server
	srv, err := server.New(
		server.WithConfig(cfg),
		server.WithLogger(log),
		server.WithTelemetry(tel),
	)
	if err != nil {
		log.Fatal("failed to create server", "error", err)
	}

	// Start server
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Error("server error", "error", err)
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
	}

	// Graceful shutdown; telemetry is closed by the server
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	log.Info("task queue service stopped gracefully")
}
