// Package main implements the devscontext CLI: the MCP server, the
// preprocessing agent and the maintenance commands around them.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath overrides the .devscontext.yaml lookup
	configPath string
	// logLevel overrides logging.level from the config file
	logLevel string
	// version information (set via ldflags during build)
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "devscontext",
	Short: "MCP server for AI coding context",
	Long: `devscontext provides synthesized engineering context from Jira, meeting
transcripts, chat, email, pull requests and local documentation to AI
coding assistants over the Model Context Protocol.

If no command is specified, devscontext runs 'serve'.`,
	Version:      version,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE:         runServe,
}

func init() {
	// cobra's Print helpers default to stderr; command output belongs on stdout.
	rootCmd.SetOut(os.Stdout)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to .devscontext.yaml (default: search upward from the working directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (trace, debug, info, warn, error)")
}
