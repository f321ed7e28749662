package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/devscontext/internal/gitrepo"
)

var (
	// contextFromBranch infers the task ID from the current git branch
	contextFromBranch bool
	// contextNoCache skips the in-memory cache
	contextNoCache bool
	// contextJSON prints the full result as JSON
	contextJSON bool
)

func init() {
	rootCmd.AddCommand(contextCmd)
	contextCmd.Flags().BoolVarP(&contextFromBranch, "from-branch", "b", false, "infer the task ID from the current git branch")
	contextCmd.Flags().BoolVar(&contextNoCache, "no-cache", false, "bypass the in-memory cache")
	contextCmd.Flags().BoolVar(&contextJSON, "json", false, "print the result as JSON")
}

var contextCmd = &cobra.Command{
	Use:   "context [task-id]",
	Short: "Print the synthesized context for a task",
	Long: `Print the context an AI assistant would receive for a task.

A fresh prebuilt result is used when one exists; otherwise every source is
queried live. With --from-branch the task ID is taken from the current git
branch name (e.g. feature/PROJ-123-add-login).

Examples:
  # Context for a ticket
  devscontext context PROJ-123

  # Context for the ticket named by the current branch
  devscontext context --from-branch`,
	Args: cobra.MaximumNArgs(1),
	RunE: runContext,
}

func runContext(cmd *cobra.Command, args []string) error {
	taskID, err := resolveTaskID(args, contextFromBranch, ".")
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, appOptions{store: true})
	if err != nil {
		return err
	}
	defer a.Close()

	tc, err := a.orch.GetTaskContext(ctx, taskID, !contextNoCache)
	if err != nil {
		return err
	}
	if contextJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(tc)
	}
	cmd.Println(tc.Synthesized)
	return nil
}

// resolveTaskID returns the explicit argument, or the ID inferred from the
// git branch checked out at dir when fromBranch is set.
func resolveTaskID(args []string, fromBranch bool, dir string) (string, error) {
	if len(args) > 0 {
		if fromBranch {
			return "", errors.New("pass either a task ID or --from-branch, not both")
		}
		id := strings.TrimSpace(args[0])
		if id == "" {
			return "", errors.New("task ID is empty")
		}
		return id, nil
	}
	if !fromBranch {
		return "", errors.New("a task ID is required (or use --from-branch)")
	}
	id, err := gitrepo.InferTaskID(dir)
	if err != nil {
		return "", fmt.Errorf("inferring task ID from branch: %w", err)
	}
	return id, nil
}
