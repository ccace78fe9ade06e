package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloo-solutions/chimera/internal/api/handlers"
	"github.com/cloo-solutions/chimera/internal/api/middleware"
	"github.com/cloo-solutions/chimera/internal/config"
	"github.com/cloo-solutions/chimera/internal/jobs"
	"github.com/cloo-solutions/chimera/internal/logging"
	"github.com/cloo-solutions/chimera/internal/server"
	"github.com/cloo-solutions/chimera/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the chimera API server. With --with-worker the same process also consumes the sync queue.",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides CHIMERA_PORT)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().Bool("with-worker", false, "Run a queue worker in the server process")
	cmd.Flags().Int("concurrency", 0, "Embedded worker goroutines (defaults to CHIMERA_WORKER_CONCURRENCY)")

	return cmd
}

// setup loads config and builds the logger and tracing shared by every daemon command
func setup() (*config.Config, *zap.Logger, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(cfg.Debug)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	flush := telemetry.Init(telemetry.Config{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Debug:       cfg.Debug,
	}, logger)
	cleanup := func() {
		flush()
		_ = logger.Sync()
	}
	return cfg, logger, cleanup, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg, logger, runtimeOptions{migrate: !noMigrate})
	if err != nil {
		return err
	}
	defer rt.Close()

	var worker *jobs.Worker
	if withWorker, _ := cmd.Flags().GetBool("with-worker"); withWorker {
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		worker, err = rt.newWorker(concurrency)
		if err != nil {
			return err
		}
		go worker.Start(context.Background())
		logger.Info("embedded worker started", zap.String("queue", rt.queue.Name()))
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.NewRouter(rt.routerConfig()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	if worker != nil {
		worker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}

func (rt *runtime) routerConfig() server.RouterConfig {
	var queue handlers.JobQueue
	if rt.queue != nil {
		queue = rt.queue
	}
	var runs handlers.RunStore
	if rt.runs != nil {
		runs = rt.runs
	}

	cfg := server.RouterConfig{
		Logger:         rt.logger,
		Auth:           middleware.NewStaticKeys(rt.cfg.StaticAPIKeys()),
		AllowedOrigins: rt.cfg.AllowedOrigins(),
		Health:         rt.health,
		SyncHandler:    handlers.NewSyncHandler(rt.manager),
		JobHandler:     handlers.NewJobHandler(queue, runs),
		AgentHandler:   handlers.NewAgentHandler(rt.orchestrator),
	}
	if rt.storage != nil {
		cfg.UploadHandler = handlers.NewUploadHandler(rt.storage)
	}
	if !cfg.Auth.Enabled() {
		rt.logger.Warn("no CHIMERA_API_KEYS configured, /v1 is unauthenticated")
	}
	return cfg
}
