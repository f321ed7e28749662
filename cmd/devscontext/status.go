package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/devscontext/internal/config"
	"github.com/fyrsmithlabs/devscontext/internal/monitor"
	"github.com/fyrsmithlabs/devscontext/internal/storage"
)

// statusMaxItems caps the prebuilt contexts listed by status.
const statusMaxItems = 10

var (
	// statusWatch opens the live dashboard instead of printing once
	statusWatch bool
	// statusInterval is the dashboard refresh interval
	statusInterval time.Duration
)

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "show a live dashboard of prebuilt contexts")
	statusCmd.Flags().DurationVar(&statusInterval, "interval", 2*time.Second, "dashboard refresh interval")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and prebuilt context status",
	Long: `Show which sources are configured, which synthesis plugin is used and
what the preprocessing agent has stored.

Examples:
  devscontext status

  # Live dashboard, refreshed every 5 seconds
  devscontext status --watch --interval 5s`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

// statusView is everything the status screen shows.
type statusView struct {
	ConfigPath string
	Sources    []string
	Synthesis  string
	Store      storage.Stats
	Items      []storage.Summary
	Now        time.Time
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if statusWatch {
		return runStatusWatch(ctx)
	}

	a, err := newApp(ctx, appOptions{store: true})
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.store.Stats(ctx)
	if err != nil {
		return err
	}
	items, err := a.store.ListAll(ctx)
	if err != nil {
		return err
	}

	cmd.Println(renderStatus(statusView{
		ConfigPath: resolvedConfigPath(),
		Sources:    a.orch.SourceNames(),
		Synthesis:  a.plugin.Name(),
		Store:      stats,
		Items:      items,
		Now:        time.Now(),
	}))
	return nil
}

// runStatusWatch only needs the store, so it skips building sources.
func runStatusWatch(ctx context.Context) error {
	if statusInterval <= 0 {
		return fmt.Errorf("--interval must be positive, got %s", statusInterval)
	}
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

	return monitor.Run(ctx, store, statusInterval)
}

// resolvedConfigPath reports the file Load would read.
func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return config.Find(wd)
}

func renderStatus(v statusView) string {
	cfgPath := v.ConfigPath
	if cfgPath == "" {
		cfgPath = dimStyle.Render("none (defaults)")
	}
	sourceList := dimStyle.Render("none")
	if len(v.Sources) > 0 {
		sourceList = strings.Join(v.Sources, ", ")
	}

	lines := []string{
		sectionStyle.Render("devscontext " + version),
		row("Config", cfgPath),
		row("Sources", sourceList),
		row("Synthesis", v.Synthesis),
		"",
		sectionStyle.Render("Prebuilt Contexts"),
		row("Database", v.Store.Path),
		row("Active", strconv.Itoa(v.Store.Active)),
		row("Expired", strconv.Itoa(v.Store.Expired)),
	}
	if v.Store.Total > 0 {
		lines = append(lines, row("Avg quality", qualityBadge(v.Store.AvgQuality)))
	}

	if len(v.Items) > 0 {
		lines = append(lines, "")
		for i, it := range v.Items {
			if i == statusMaxItems {
				lines = append(lines, dimStyle.Render(fmt.Sprintf("... and %d more", len(v.Items)-statusMaxItems)))
				break
			}
			state := healthyStyle.Render("fresh")
			if !v.Now.Before(it.ExpiresAt) {
				state = errorStyle.Render("expired")
			}
			lines = append(lines, fmt.Sprintf("%-14s %s  %s  %s",
				it.TaskID, qualityBadge(it.QualityScore), state,
				dimStyle.Render(fmt.Sprintf("%d gaps, built %s", it.GapsCount, it.BuiltAt.Local().Format("2006-01-02 15:04")))))
		}
	}
	return containerStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
