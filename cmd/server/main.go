package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/enslite/enslite/internal/api"
	"github.com/enslite/enslite/internal/auth"
	"github.com/enslite/enslite/internal/bus"
	"github.com/enslite/enslite/internal/config"
	"github.com/enslite/enslite/internal/database"
	"github.com/enslite/enslite/internal/hub"
	"github.com/enslite/enslite/internal/ingest"
	"github.com/enslite/enslite/internal/store"
)

func main() {
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := initLogger(cfg.Logging)
	logger.Info("Starting ENS Lite Server",
		"http_port", cfg.Server.Port,
		"stream_port", cfg.Stream.Port,
		"datagram_port", cfg.Datagram.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Store: Postgres for deployments, memory for development.
	var eventStore store.Store
	switch cfg.Database.Driver {
	case "memory":
		eventStore = store.NewMemory()
		logger.Warn("Using in-memory store, records will not survive a restart")
	default:
		if err := database.RunMigrations(&cfg.Database); err != nil {
			log.Fatalf("Migrations failed: %v", err)
		}
		pool, err := database.NewPool(ctx, &cfg.Database)
		if err != nil {
			log.Fatalf("DB init failed: %v", err)
		}
		defer pool.Close()
		eventStore = store.NewPostgres(pool)
	}

	// Message bus: in-process for single instances, NATS for fan-out
	// across instances.
	var messageBus bus.Bus
	switch cfg.Bus.Mode {
	case "nats":
		messageBus, err = bus.NewNATS(cfg.Bus.NATSURL, cfg.Bus.SubjectPrefix, cfg.Bus.BufferSize)
		if err != nil {
			log.Fatalf("NATS init failed: %v", err)
		}
		logger.Info("Message bus connected", "mode", "nats", "url", cfg.Bus.NATSURL)
	default:
		messageBus = bus.NewInProcess(cfg.Bus.BufferSize)
	}
	defer messageBus.Close()

	authService, err := auth.NewService(
		cfg.Auth.JWTSecret,
		cfg.Auth.AdminUsername,
		cfg.Auth.AdminPassword,
		cfg.Auth.GetJWTExpiry(),
	)
	if err != nil {
		log.Fatalf("Failed to initialize auth service: %v", err)
	}

	broadcastHub := hub.New(messageBus, eventStore, logger)

	// Ingest listeners under one supervisor.
	registry := ingest.NewRegistry()
	streamListener := ingest.NewStreamListener(cfg.Stream, eventStore, broadcastHub, registry, logger)
	datagramListener := ingest.NewDatagramListener(cfg.Datagram, eventStore, broadcastHub, logger)
	supervisor := ingest.NewSupervisor(streamListener, datagramListener, registry, logger)

	if err := supervisor.Start(ctx); err != nil {
		log.Fatalf("Failed to start ingest listeners: %v", err)
	}

	router := api.NewRouter(authService, eventStore, broadcastHub, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	cancel()
	supervisor.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	logger.Info("Server stopped gracefully")
}

func initLogger(cfg config.LoggingConfig) *slog.Logger {
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
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
