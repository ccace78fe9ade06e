package admin

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// WorkerCmd returns the worker command
func WorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume sync jobs from the queue",
		Long:  "Run a pool of goroutines that pop sync jobs from the Redis queue and run them one at a time each.",
		RunE:  runWorker,
	}

	cmd.Flags().IntP("concurrency", "c", 0, "Worker goroutines (defaults to CHIMERA_WORKER_CONCURRENCY)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, logger, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	concurrency, _ := cmd.Flags().GetInt("concurrency")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg, logger, runtimeOptions{migrate: !noMigrate})
	if err != nil {
		return err
	}
	defer rt.Close()

	worker, err := rt.newWorker(concurrency)
	if err != nil {
		return err
	}

	logger.Info("worker started", zap.String("queue", rt.queue.Name()))
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Start(context.Background())
	}()

	<-ctx.Done()
	logger.Info("shutting down, waiting for running jobs")
	worker.Stop()
	<-done

	logger.Info("worker exited")
	return nil
}
