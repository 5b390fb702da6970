/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the billing engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (file, then BILLING_* environment)
  2. Build the zap logger
  3. Open the SQLite store
  4. Choose the WIP sync queue (inline, in-memory, or Redis)
  5. Build the engine, start the sync worker and reconciler
  6. Configure the HTTP router and serve

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (default: ./config.yaml if present)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the reconciler, drain the worker
  4. Close queue and database
  5. Exit

EXAMPLES:
  # Development defaults, in-process sync
  ./server

  # Scratch database, Redis-backed sync
  BILLING_DATABASE_PATH=":memory:" BILLING_SYNC_DRIVER=redis ./server

SEE ALSO:
  - config/config.go: Keys and defaults
  - api/server.go: Router configuration
  - wipsync/worker.go: Sync worker
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/billing-engine/api"
	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/config"
	"github.com/warp/billing-engine/logging"
	"github.com/warp/billing-engine/scope"
	"github.com/warp/billing-engine/store/sqlite"
	"github.com/warp/billing-engine/wipsync"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue, err := openQueue(ctx, cfg, logger)
	if err != nil {
		return err
	}

	opts := []billing.Option{
		billing.WithLogger(logger.Named("billing")),
		billing.WithPolicy(scope.Policy{LeadScopeAppliesToPartners: cfg.Billing.LeadScopeAppliesToPartners}),
		billing.WithNumberRetries(cfg.Billing.NumberRetries),
	}
	if queue != nil {
		opts = append(opts, billing.WithEnqueuer(queue))
	}
	engine := billing.NewEngine(store, opts...)

	var worker *wipsync.Worker
	if queue != nil {
		defer queue.Close()
		worker = wipsync.NewWorker(queue, engine.Synchronizer(), wipsync.WorkerConfig{
			Workers:     cfg.Sync.Workers,
			MaxAttempts: cfg.Sync.MaxAttempts,
		}, logger.Named("wipsync"))
		worker.Start(ctx)
	}

	var reconciler *wipsync.Reconciler
	if cfg.Sync.ReconcileInterval > 0 {
		reconciler = wipsync.NewReconciler(store, engine.Synchronizer(), queue, wipsync.ReconcilerConfig{
			Interval:  cfg.Sync.ReconcileInterval,
			BatchSize: cfg.Sync.ReconcileBatch,
		}, logger.Named("reconciler"))
		reconciler.Start(ctx)
	}

	handler := api.NewHandler(engine, store, logger.Named("api"))
	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Scenarios:   !cfg.IsProduction(),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.HTTP.Port),
			zap.String("env", cfg.App.Env),
			zap.String("sync_driver", cfg.Sync.Driver),
			zap.String("database", cfg.Database.Path),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal or a listener failure
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	if reconciler != nil {
		reconciler.Stop()
	}
	if worker != nil {
		if err := worker.Stop(shutdownCtx); err != nil {
			logger.Warn("sync worker did not drain", zap.Error(err))
		}
	}

	logger.Info("server stopped")
	return nil
}

// openQueue returns the queue for sync.driver, or nil for inline sync.
func openQueue(ctx context.Context, cfg *config.Config, logger *zap.Logger) (wipsync.Queue, error) {
	switch cfg.Sync.Driver {
	case config.SyncMemory:
		return wipsync.NewChannelQueue(cfg.Sync.Buffer), nil

	case config.SyncRedis:
		q, err := wipsync.NewRedisQueue(ctx, wipsync.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			QueueKey: cfg.Redis.QueueKey,
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		// Tasks claimed by a worker that died are put back.
		n, err := q.Recover(ctx)
		if err != nil {
			q.Close()
			return nil, fmt.Errorf("recover redis queue: %w", err)
		}
		if n > 0 {
			logger.Info("recovered in-flight sync tasks", zap.Int("count", n))
		}
		return q, nil

	default:
		return nil, nil
	}
}
