// Package monitor renders a live terminal dashboard of the prebuilt
// context store.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/devscontext/internal/storage"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	maxRows         = 8
	fetchTimeout    = 5 * time.Second
)

// Source is the store the dashboard polls.
type Source interface {
	Stats(ctx context.Context) (storage.Stats, error)
	ListAll(ctx context.Context) ([]storage.Summary, error)
}

// Model represents the BubbleTea dashboard model
type Model struct {
	source     Source
	interval   time.Duration
	lastUpdate time.Time
	snapshot   Snapshot
	err        error
	quitting   bool
	now        func() time.Time

	freshProgress progress.Model
}

// Snapshot holds the current store data
type Snapshot struct {
	Stats storage.Stats
	Items []storage.Summary

	// Historical data for sparklines (last N points)
	ActiveHistory  []float64
	QualityHistory []float64
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a new dashboard model
func NewModel(source Source, interval time.Duration) Model {
	freshProg := progress.New(
		progress.WithGradient("#ff0000", "#00ff00"),
		progress.WithWidth(40),
	)

	return Model{
		source:        source,
		interval:      interval,
		now:           time.Now,
		freshProgress: freshProg,
		snapshot: Snapshot{
			ActiveHistory:  make([]float64, 0, historySize),
			QualityHistory: make([]float64, 0, historySize),
		},
	}
}

// Run shows the dashboard until the user quits or ctx is cancelled.
func Run(ctx context.Context, source Source, interval time.Duration) error {
	p := tea.NewProgram(NewModel(source, interval), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("running dashboard: %w", err)
	}
	return nil
}

// qualityBadge returns a colored badge for a quality score
func qualityBadge(score float64) string {
	text := fmt.Sprintf("%3.0f%%", score*100)
	if score >= 0.8 {
		return healthyStyle.Render(text)
	} else if score >= 0.5 {
		return warningStyle.Render(text)
	}
	return errorStyle.Render(text)
}

// statusBadge summarizes store health from the share of fresh contexts.
func statusBadge(stats storage.Stats) string {
	switch {
	case stats.Total == 0:
		return dimStyle.Render("○ EMPTY")
	case stats.Expired == 0:
		return healthyStyle.Render("✓ FRESH")
	case stats.Active > 0:
		return warningStyle.Render("⚠ STALE")
	}
	return errorStyle.Render("✗ EXPIRED")
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()

	return sparklineStyle.Render(spark.View())
}

// Message types
type tickMsg time.Time
type snapshotMsg Snapshot
type errMsg error

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchSnapshot(m.source),
	)
}

// tick creates a tick command for auto-refresh
func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchSnapshot reads stats and summaries from the store.
func fetchSnapshot(source Source) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		stats, err := source.Stats(ctx)
		if err != nil {
			return errMsg(err)
		}
		items, err := source.ListAll(ctx)
		if err != nil {
			return errMsg(err)
		}
		return snapshotMsg{Stats: stats, Items: items}
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchSnapshot(m.source)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchSnapshot(m.source),
		)

	case snapshotMsg:
		snap := Snapshot(msg)
		snap.ActiveHistory = appendToHistory(m.snapshot.ActiveHistory, float64(snap.Stats.Active))
		snap.QualityHistory = appendToHistory(m.snapshot.QualityHistory, snap.Stats.AvgQuality*100)

		m.snapshot = snap
		m.lastUpdate = m.now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	header := headerStyle.Render("devscontext Monitor")

	var content string
	content += "\n"
	content += errorStyle.Render("⚠ Cannot read the context store") + "\n"
	content += "\n"
	content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
	content += "\n"
	content += footerStyle.Render("[q] quit  [r] retry") + "\n"

	return containerStyle.Render(header + "\n" + content)
}

func (m Model) renderDashboard() string {
	stats := m.snapshot.Stats
	now := m.now()

	var content string
	content += headerStyle.Render("devscontext Monitor") + "  " + statusBadge(stats)
	if !m.lastUpdate.IsZero() {
		content += "  " + dimStyle.Render("updated "+m.lastUpdate.Format("15:04:05"))
	}
	content += "\n"

	content += "\n" + sectionStyle.Render("┃ Prebuilt Contexts") + "\n"
	content += labelStyle.Render("  Database: ") + valueStyle.Render(stats.Path) + "\n"
	content += labelStyle.Render("  Active: ") +
		valueStyle.Render(fmt.Sprintf("%d", stats.Active)) +
		dimStyle.Render(fmt.Sprintf(" / %d", stats.Total)) +
		"            " + createSparkline(m.snapshot.ActiveHistory) + "\n"

	freshRatio := 0.0
	if stats.Total > 0 {
		freshRatio = float64(stats.Active) / float64(stats.Total)
	}
	content += labelStyle.Render("  Fresh: ") +
		m.freshProgress.ViewAs(freshRatio) +
		" " + dimStyle.Render(FormatPercentage(freshRatio)) + "\n"

	content += "\n" + sectionStyle.Render("┃ Quality") + "\n"
	content += labelStyle.Render("  Average: ")
	if stats.Total > 0 {
		content += qualityBadge(stats.AvgQuality)
	} else {
		content += dimStyle.Render("n/a")
	}
	content += "             " + createSparkline(m.snapshot.QualityHistory) + "\n"

	content += "\n" + sectionStyle.Render("┃ Tasks") + "\n"
	items := sortedByExpiry(m.snapshot.Items)
	if len(items) == 0 {
		content += dimStyle.Render("  No prebuilt contexts yet") + "\n"
	}
	for i, it := range items {
		if i == maxRows {
			content += dimStyle.Render(fmt.Sprintf("  ... and %d more", len(items)-maxRows)) + "\n"
			break
		}
		expiry := FormatExpiry(it.ExpiresAt, now)
		if it.ExpiresAt.After(now) {
			expiry = dimStyle.Render(expiry)
		} else {
			expiry = errorStyle.Render(expiry)
		}
		content += fmt.Sprintf("  %-14s %s  %s  %s\n",
			it.TaskID, qualityBadge(it.QualityScore), expiry,
			dimStyle.Render(fmt.Sprintf("%d gaps", it.GapsCount)))
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))

	content += "\n" + footer

	return containerStyle.Render(content)
}

// sortedByExpiry orders contexts soonest-expiring first without
// touching the caller's slice.
func sortedByExpiry(items []storage.Summary) []storage.Summary {
	out := make([]storage.Summary, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out
}
