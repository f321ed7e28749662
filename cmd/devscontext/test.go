package main

import (
	"sort"

	"github.com/spf13/cobra"
)

var (
	// testTicket is fetched after the health checks when set
	testTicket string
)

func init() {
	rootCmd.AddCommand(testCmd)
	testCmd.Flags().StringVarP(&testTicket, "ticket", "t", "", "ticket ID to fetch context for (e.g., PROJ-123)")
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test connections to configured sources",
	Long: `Verify that every enabled source can reach its service. With --ticket
the full context for that ticket is fetched and printed as well.

Examples:
  # Check every configured source
  devscontext test

  # Also fetch a ticket
  devscontext test --ticket PROJ-123`,
	Args: cobra.NoArgs,
	RunE: runTest,
}

func runTest(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	cmd.Println("Testing source connections...")
	cmd.Println()

	health := a.orch.HealthCheck(ctx)
	if len(health.Sources) == 0 {
		cmd.Println("  No sources configured. Run 'devscontext init' first.")
	}
	names := make([]string, 0, len(health.Sources))
	for name := range health.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmd.Printf("  %s %s\n", checkMark(health.Sources[name]), name)
	}
	cmd.Println()

	if testTicket == "" {
		cmd.Println(dimStyle.Render("Use --ticket PROJ-123 to test fetching a ticket."))
		return nil
	}

	cmd.Printf("Fetching context for %s...\n\n", testTicket)
	tc, err := a.orch.GetTaskContext(ctx, testTicket, false)
	if err != nil {
		return err
	}
	cmd.Println(tc.Synthesized)
	return nil
}
