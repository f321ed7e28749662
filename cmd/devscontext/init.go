package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/devscontext/internal/config"
	"github.com/fyrsmithlabs/devscontext/internal/gitrepo"
)

var (
	// initForce overwrites an existing configuration file
	initForce bool
	// initDir is where the configuration file is written
	initDir string
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing .devscontext.yaml")
	initCmd.Flags().StringVar(&initDir, "dir", ".", "directory to write .devscontext.yaml into")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter .devscontext.yaml",
	Long: `Create a starter .devscontext.yaml with common defaults.

Credentials are referenced through environment variables so the file can
be committed. When the directory is a git checkout with a GitHub origin,
the repository is prefilled in sources.github.repos.

Examples:
  # Create .devscontext.yaml in the current directory
  devscontext init

  # Replace an existing file
  devscontext init --force`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, _ []string) error {
	path := filepath.Join(initDir, config.FileName)
	if _, err := os.Stat(path); err == nil && !initForce {
		cmd.Printf("Config file already exists: %s\n", path)
		cmd.Println("Use --force to overwrite.")
		return nil
	}

	repo, err := gitrepo.OriginRepo(initDir)
	if err != nil && !errors.Is(err, gitrepo.ErrNotRepository) && !errors.Is(err, gitrepo.ErrNoOrigin) {
		cmd.PrintErrf("Could not read git origin: %v\n", err)
	}

	if err := os.WriteFile(path, []byte(renderConfig(repo)), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	cmd.Printf("Created %s\n\n", path)
	cmd.Println("Next steps:")
	cmd.Println("  1. Edit .devscontext.yaml with your Jira URL and project")
	cmd.Println("  2. Set environment variables:")
	cmd.Println("     export JIRA_EMAIL='your-email@company.com'")
	cmd.Println("     export JIRA_API_TOKEN='your-api-token'")
	cmd.Println("     export ANTHROPIC_API_KEY='your-api-key'")
	cmd.Println("  3. Test: devscontext test --ticket YOUR-123")
	return nil
}

// renderConfig returns the starter configuration. GitHub is enabled only
// when repo names the origin repository.
func renderConfig(repo string) string {
	github := "    enabled: false\n    token: \"${GITHUB_TOKEN}\"\n    repos: []\n"
	if repo != "" {
		github = fmt.Sprintf("    enabled: true\n    token: \"${GITHUB_TOKEN}\"\n    repos:\n      - %q\n", repo)
	}
	return strings.Replace(configTemplate, "{{github}}", github, 1)
}

const configTemplate = `# devscontext configuration
# Values may reference environment variables with ${VAR}.

sources:
  jira:
    enabled: true
    base_url: "https://your-company.atlassian.net"
    email: "${JIRA_EMAIL}"
    api_token: "${JIRA_API_TOKEN}"
    project: "PROJ"

  fireflies:
    enabled: false
    api_key: "${FIREFLIES_API_KEY}"

  docs:
    enabled: true
    paths:
      - "./docs/"
      - "./CLAUDE.md"
    rag:
      enabled: false
      embedding_provider: "local"

  slack:
    enabled: false
    bot_token: "${SLACK_BOT_TOKEN}"
    channels: []

  gmail:
    enabled: false
    credentials_path: "~/.devscontext/gmail_credentials.json"

  github:
{{github}}
synthesis:
  plugin: "llm"
  provider: "anthropic"
  api_key: "${ANTHROPIC_API_KEY}"

cache:
  enabled: true
  ttl_minutes: 15
  max_size: 100

agents:
  preprocessor:
    enabled: false
    jira_status: "Ready for Development"
    jira_project: "PROJ"
    context_ttl_hours: 24

storage:
  path: ".devscontext/cache.db"

logging:
  level: "info"

# Publish preprocessing events on NATS. With embedded: true, serve runs
# the NATS server itself.
events:
  enabled: false
  embedded: true
  url: "nats://127.0.0.1:4222"

# Run preprocessing as Temporal workflows (start workers with
# 'devscontext worker').
workflows:
  enabled: false
  host_port: "localhost:7233"
  task_queue: "devscontext-preprocess"
`
