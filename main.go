package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/agentplane/agentplane/internal/broker"
	"github.com/agentplane/agentplane/internal/config"
	"github.com/agentplane/agentplane/internal/eventlog"
	"github.com/agentplane/agentplane/internal/graph"
	"github.com/agentplane/agentplane/internal/metrics"
	"github.com/agentplane/agentplane/internal/repository"
	"github.com/agentplane/agentplane/internal/scheduler"
	"github.com/agentplane/agentplane/internal/service"
	httptransport "github.com/agentplane/agentplane/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting agentplane",
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("database", cfg.DatabaseURL))

	// Initialize stores
	store, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to initialize store", zap.Error(err))
	}
	defer func() { _ = store.Close() }()

	events, err := eventlog.New(store.DB())
	if err != nil {
		logger.Fatal("failed to initialize event log", zap.Error(err))
	}

	// Metrics
	m := metrics.NewCollector()

	// Event broker
	b := broker.New(events, cfg.SubscriberBuffer, m, logger)

	// Graph registry
	graphs := graph.NewRegistry()
	graphs.Register("chat", graph.NewEcho())

	// Service
	svc := service.New(store, events, b, graphs, cfg, m, logger)

	// Background loops
	janitor := eventlog.NewJanitor(events, cfg.EventRetention, cfg.EventGCInterval, logger)
	janitor.Start()

	trigger := scheduler.NewTriggerLoop(store, cfg.TriggerInterval, m, logger)
	trigger.Start()

	dispatch := scheduler.NewDispatchLoop(store, graphs, cfg.DispatchInterval, m, logger)
	dispatch.Start()

	// HTTP server
	server := httptransport.NewServer(svc)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	logger.Info("api started", zap.Int("port", cfg.HTTPPort))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	// Stop producing new work before cancelling in-flight runs.
	trigger.Stop()
	dispatch.Stop()
	svc.Shutdown()
	janitor.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server gracefully", zap.Error(err))
	}

	logger.Info("stopped")
}

func newLogger(level string) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zc.Build()
}
