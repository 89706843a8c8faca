package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cyderes/event-archive-ingestion/internal/config"
	"github.com/cyderes/event-archive-ingestion/internal/ingestion"
	"github.com/cyderes/event-archive-ingestion/internal/journal"
	"github.com/cyderes/event-archive-ingestion/internal/logger"
	"github.com/cyderes/event-archive-ingestion/internal/metrics"
	"github.com/cyderes/event-archive-ingestion/internal/notify"
	"github.com/cyderes/event-archive-ingestion/internal/objectstore"
	"github.com/cyderes/event-archive-ingestion/internal/server"
	"github.com/cyderes/event-archive-ingestion/internal/sink"
	"github.com/cyderes/event-archive-ingestion/internal/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	zlog, err := logger.New(cfg.App.LogLevel)
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer zlog.Sync()

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, cfg.App.Name)
	if err != nil {
		zlog.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	// Initialize object store
	objects, err := objectstore.New(cfg.ObjectStore)
	if err != nil {
		zlog.Fatal("Failed to initialize object store", zap.Error(err))
	}
	defer objects.Close()

	// Initialize journal
	journals, err := journal.NewStore(ctx, cfg.Journal)
	if err != nil {
		zlog.Fatal("Failed to initialize journal", zap.Error(err))
	}
	defer journals.Close()

	// Initialize sink
	snk, err := sink.NewPostgresSink(ctx, cfg.Sink)
	if err != nil {
		zlog.Fatal("Failed to initialize sink", zap.Error(err))
	}
	defer snk.Close()

	if cfg.Sink.AutoCreate {
		for _, table := range []*sink.Table{sink.WebTable(), sink.MpTable()} {
			if err := snk.EnsureTable(ctx, table); err != nil {
				zlog.Fatal("Failed to create table", zap.String("table", table.Name), zap.Error(err))
			}
		}
	}

	notifier := notify.New(cfg.Kafka)
	collector := metrics.NewCollector()

	// Initialize ingestion service
	service := ingestion.NewService(cfg.Ingestion, objects, journals, snk, notifier, collector, zlog)

	// Initialize HTTP server for API endpoints
	httpServer := server.NewServer(cfg.Server, service, collector.Handler(), zlog)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start HTTP server
	go func() {
		zlog.Info("Starting HTTP server", zap.Int("port", cfg.Server.Port))
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Start scheduled runs
	go func() {
		if err := service.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
			zlog.Error("Scheduled ingestion stopped", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	zlog.Info("Shutdown signal received, gracefully shutting down...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Shutdown services
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zlog.Error("HTTP server shutdown error", zap.Error(err))
	}

	cancel() // Stop scheduled runs

	if err := service.Close(shutdownCtx); err != nil {
		zlog.Error("Ingestion runs did not stop in time", zap.Error(err))
	}

	if err := notifier.Close(shutdownCtx); err != nil {
		zlog.Error("Notifier shutdown error", zap.Error(err))
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		zlog.Error("Tracing shutdown error", zap.Error(err))
	}

	zlog.Info("Shutdown complete")
}
