package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/devscontext/internal/preprocess"
)

var (
	// preprocessFromBranch infers the task ID from the current git branch
	preprocessFromBranch bool
	// preprocessIfStale skips the run when the stored result is current
	preprocessIfStale bool
)

func init() {
	rootCmd.AddCommand(preprocessCmd)
	preprocessCmd.Flags().BoolVarP(&preprocessFromBranch, "from-branch", "b", false, "infer the task ID from the current git branch")
	preprocessCmd.Flags().BoolVar(&preprocessIfStale, "if-stale", false, "only rebuild when the ticket changed since the last run")
}

var preprocessCmd = &cobra.Command{
	Use:   "preprocess [task-id]",
	Short: "Build and store rich context for a task",
	Long: `Run the preprocessing pipeline for one task: fetch the ticket, search
every other source, synthesize a brief, score its completeness and store
the result for the MCP server to serve.

Examples:
  # Preprocess a ticket
  devscontext preprocess PROJ-123

  # Rebuild only if the ticket changed
  devscontext preprocess PROJ-123 --if-stale`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPreprocess,
}

func runPreprocess(cmd *cobra.Command, args []string) error {
	taskID, err := resolveTaskID(args, preprocessFromBranch, ".")
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, appOptions{pipeline: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if preprocessIfStale {
		stale, err := a.pipeline.IsStale(ctx, taskID)
		if err != nil {
			return err
		}
		if !stale {
			cmd.Printf("%s is up to date.\n", taskID)
			return nil
		}
	}

	cmd.Printf("Preprocessing %s...\n", taskID)
	res, err := a.pipeline.Process(ctx, taskID)
	if err != nil {
		if errors.Is(err, preprocess.ErrNoTicketSource) {
			return fmt.Errorf("%w: enable sources.jira in .devscontext.yaml", err)
		}
		return err
	}

	cmd.Println()
	cmd.Println(row("Quality", qualityBadge(res.QualityScore)))
	cmd.Println(row("Sources", fmt.Sprintf("%d", len(res.SourcesUsed))))
	cmd.Println(row("Expires", res.ExpiresAt.Local().Format("2006-01-02 15:04")))
	if len(res.Gaps) > 0 {
		cmd.Println(sectionStyle.Render("Gaps"))
		for _, g := range res.Gaps {
			cmd.Println("  - " + g)
		}
	}
	return nil
}
