package main

import (
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/devscontext/internal/storage"
)

var (
	// pruneTask deletes one task instead of every expired one
	pruneTask string
)

func init() {
	rootCmd.AddCommand(pruneCmd)
	pruneCmd.Flags().StringVar(&pruneTask, "task", "", "delete the stored context for one task")
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired prebuilt contexts",
	Long: `Delete prebuilt contexts whose TTL has passed, or the stored context
for one task with --task.

Examples:
  # Remove everything expired
  devscontext prune

  # Forget one task
  devscontext prune --task PROJ-123`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

func runPrune(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := storage.Open(cfg.Storage.Path, logger.Underlying())
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	if pruneTask != "" {
		deleted, err := store.Delete(ctx, pruneTask)
		if err != nil {
			return err
		}
		if !deleted {
			cmd.Printf("No stored context for %s.\n", pruneTask)
			return nil
		}
		cmd.Printf("Deleted stored context for %s.\n", pruneTask)
		return nil
	}

	n, err := store.DeleteExpired(ctx)
	if err != nil {
		return err
	}
	cmd.Printf("Deleted %d expired context(s).\n", n)
	return nil
}
