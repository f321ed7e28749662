package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devscontext/internal/preprocess"
	"github.com/fyrsmithlabs/devscontext/internal/workflows"
)

func init() {
	rootCmd.AddCommand(workerCmd)
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a Temporal worker for durable preprocessing",
	Long: `Run a Temporal worker that executes preprocessing workflows started by
'devscontext watch' or 'devscontext serve' when workflows.enabled is set.

The worker runs the same pipeline as 'devscontext preprocess' and stores
results in the local database.

Examples:
  # Start a worker against workflows.host_port
  devscontext worker`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appOptions{pipeline: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if a.registry.Primary() == nil {
		return preprocess.ErrNoTicketSource
	}

	c, err := a.temporalClient()
	if err != nil {
		return err
	}

	wf := a.cfg.Workflows
	w := workflows.NewWorker(c, wf.TaskQueue, a.pipeline)
	if err := w.Start(); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}
	a.logger.Info(ctx, "worker started",
		zap.String("host_port", wf.HostPort),
		zap.String("namespace", wf.Namespace),
		zap.String("task_queue", wf.TaskQueue))

	<-ctx.Done()
	w.Stop()
	a.logger.Info(ctx, "worker stopped")
	return nil
}
