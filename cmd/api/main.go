package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xelth-com/rentsync/internal/buildinfo"
	"github.com/xelth-com/rentsync/internal/config"
	"github.com/xelth-com/rentsync/internal/database"
	"github.com/xelth-com/rentsync/internal/handlers"
	"github.com/xelth-com/rentsync/internal/logging"
	"github.com/xelth-com/rentsync/internal/reconcile"
	"github.com/xelth-com/rentsync/internal/websocket"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load(os.Getenv("RENTSYNC_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting rentsync server",
		zap.String("built", buildinfo.BuildTime),
		zap.String("commit", buildinfo.CommitHash),
		zap.String("env", cfg.App.Env))

	// 2. Database, or memory-only when it is unreachable and fallback is on
	opts := reconcile.Options{
		FallbackEnabled: cfg.Server.FallbackEnabled,
		Logger:          logger,
	}

	db, err := database.Connect(cfg.Database, logger)
	if err != nil {
		if !cfg.Server.FallbackEnabled {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		logger.Warn("database unavailable, serving from memory", zap.Error(err))
	} else {
		// 3. Schema
		store := reconcile.NewGormStore(db.DB)
		migrateCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if err := store.Migrate(migrateCtx); err != nil {
			cancel()
			logger.Fatal("failed to migrate schema", zap.Error(err))
		}
		cancel()
		logger.Info("schema synchronized")

		opts.Primary = store
		opts.History = reconcile.NewGormHistory(db.DB)
	}

	// 4. Realtime hub and router
	hub := websocket.NewHub(logger)
	go hub.Run()
	opts.Notifier = hub

	service := reconcile.NewService(opts)
	router := handlers.NewRouter(service, hub, logger, cfg.Server.HistoryLimit)

	// 5. Start server with graceful shutdown
	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	sig := <-shutdown
	logger.Info("shutting down", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	hub.Stop()

	// Close database (this also stops embedded PostgreSQL)
	if db != nil {
		if err := db.Close(); err != nil {
			logger.Error("database close error", zap.Error(err))
		}
	}

	logger.Info("shutdown complete")
}
