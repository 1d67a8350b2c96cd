package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	grpcserver "github.com/pipeguard/pipeguard/internal/api/grpc"
	"github.com/pipeguard/pipeguard/internal/config"
	"github.com/pipeguard/pipeguard/internal/database"
	chrepo "github.com/pipeguard/pipeguard/internal/repository/clickhouse"
	"github.com/pipeguard/pipeguard/pkg/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipeguard: load config: %v\n", err)
		os.Exit(1)
	}

	// Wire assembles the full dependency graph, connecting the stores
	// along the way.
	app, err := InitializeApplication(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipeguard: initialize: %v\n", err)
		os.Exit(1)
	}
	defer app.Cleanup()
	defer app.Logger.Sync()

	validator.Init()

	app.Logger.Info("starting PipeGuard server",
		zap.String("environment", cfg.Server.Environment),
		zap.Int("port", cfg.Server.Port),
	)
	app.Logger.Info("datastores connected")

	// Bring the PostgreSQL schema up to date and make sure the metric
	// table exists before anything writes to it.
	if err := database.RunMigrations(cfg.Postgres.URL(), app.Logger); err != nil {
		app.Logger.Fatal("failed to run database migrations", zap.Error(err))
	}

	schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := chrepo.EnsureSchema(schemaCtx, app.ClickHouseConn, app.Logger); err != nil {
		schemaCancel()
		app.Logger.Fatal("failed to ensure clickhouse schema", zap.Error(err))
	}
	schemaCancel()

	// Sync the configured healing action catalog into the store
	syncCtx, syncCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := app.Healing.SyncCatalog(syncCtx, app.AlertingFile.Healing.Actions); err != nil {
		syncCancel()
		app.Logger.Fatal("failed to sync healing action catalog", zap.Error(err))
	}
	syncCancel()

	// Start background services (event hub, batch writer, workers)
	app.Start()

	// Watch the alerting config file for live reloads
	var watcher *config.RulesWatcher
	if cfg.Alerting.WatchRulesFile {
		watcher = config.NewRulesWatcher(cfg.Alerting.RulesFile, app.Logger, app.ApplyAlertingFile)
		if err := watcher.Start(); err != nil {
			app.Logger.Error("failed to watch alerting config", zap.Error(err))
			watcher = nil
		} else {
			app.Logger.Info("watching alerting config", zap.String("path", cfg.Alerting.RulesFile))
		}
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      app.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		app.Logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.Logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// The OTLP receiver runs on its own port when enabled.
	var grpcServer *grpcserver.Server
	if app.GRPCComponents != nil {
		grpcServer = grpcserver.NewServer(
			app.GRPCComponents.Config,
			app.GRPCComponents.OTLPService,
			app.Logger,
		)
		if err := grpcServer.Start(); err != nil {
			app.Logger.Fatal("failed to start gRPC server", zap.Error(err))
		}
	}

	// Block until asked to stop.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info("shutting down server...")

	// Drain HTTP first so in-flight requests finish against live stores.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		app.Logger.Fatal("HTTP server forced shutdown", zap.Error(err))
	}

	if grpcServer != nil {
		app.Logger.Info("stopping gRPC server...")
		grpcCtx, grpcCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := grpcServer.Stop(grpcCtx); err != nil {
			app.Logger.Error("failed to stop gRPC server cleanly", zap.Error(err))
		}
		grpcCancel()
	}

	if watcher != nil {
		watcher.Stop()
	}

	// Flush buffered metric points while ClickHouse is still open.
	if batchWriter := app.GetBatchWriter(); batchWriter != nil {
		app.Logger.Info("stopping batch writer...")
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := batchWriter.Stop(flushCtx); err != nil {
			app.Logger.Error("failed to stop batch writer cleanly", zap.Error(err))
		}
		flushCancel()

		points, flushes, errors := batchWriter.Stats()
		app.Logger.Info("batch writer final stats",
			zap.Int64("points_written", points),
			zap.Int64("flush_count", flushes),
			zap.Int64("error_count", errors),
		)
	}

	app.Logger.Info("server stopped")
}
