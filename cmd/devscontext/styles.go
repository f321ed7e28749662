package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	// Section title style - bold bright cyan
	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45")).
			Width(16)

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
			Padding(0, 1)
)

// checkMark renders a health indicator.
func checkMark(ok bool) string {
	if ok {
		return healthyStyle.Render("✓")
	}
	return errorStyle.Render("✗")
}

// qualityBadge colors a 0..1 quality score.
func qualityBadge(score float64) string {
	text := fmt.Sprintf("%3.0f%%", score*100)
	switch {
	case score >= 0.8:
		return healthyStyle.Render(text)
	case score >= 0.5:
		return warningStyle.Render(text)
	}
	return errorStyle.Render(text)
}

// row renders one label/value line.
func row(label, value string) string {
	return labelStyle.Render(label) + valueStyle.Render(value)
}
