package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/devscontext/internal/preprocess"
	"github.com/fyrsmithlabs/devscontext/internal/watcher"
)

var (
	// watchOnce runs a single poll cycle and exits
	watchOnce bool
	// watchInterval overrides agents.preprocessor.trigger.poll_interval_minutes
	watchInterval time.Duration
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "run one poll cycle and exit")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "poll interval (default: agents.preprocessor.trigger.poll_interval_minutes)")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch Jira and preprocess tickets as they become ready",
	Long: `Poll Jira for tickets in the configured status and run the
preprocessing pipeline for each one not seen before.

The JQL is built from agents.preprocessor.jira_status and
agents.preprocessor.jira_project. With workflows.enabled each ticket is
handed to a Temporal workflow run by 'devscontext worker'.

Examples:
  # Watch until interrupted
  devscontext watch

  # Run one cycle (e.g. from cron)
  devscontext watch --once`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appOptions{pipeline: true})
	if err != nil {
		return err
	}
	defer a.Close()

	primary := a.registry.Primary()
	if primary == nil {
		return preprocess.ErrNoTicketSource
	}

	opts := []watcher.Option{watcher.WithLogger(a.logger)}
	if watchInterval > 0 {
		opts = append(opts, watcher.WithInterval(watchInterval))
	}
	proc, err := a.processor()
	if err != nil {
		return err
	}
	w := watcher.New(a.cfg.Agents.Preprocessor, primary, proc, opts...)

	if watchOnce {
		cmd.Printf("Polling: %s\n", watcher.BuildJQL(a.cfg.Agents.Preprocessor))
		n, err := w.RunOnce(ctx)
		if err != nil {
			return err
		}
		cmd.Printf("Processed %d ticket(s).\n", n)
		return nil
	}
	return w.Run(ctx)
}
