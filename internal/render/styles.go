// Package render formats daily records and load trends for the terminal.
package render

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Colors
var (
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	secondaryColor = lipgloss.Color("#10B981") // Green
	warningColor   = lipgloss.Color("#F59E0B") // Amber
	errorColor     = lipgloss.Color("#EF4444") // Red
	mutedColor     = lipgloss.Color("#6B7280") // Gray
	textColor      = lipgloss.Color("#F9FAFB") // Light gray
)

// Styles
var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(textColor).
			Background(primaryColor).
			Padding(0, 1).
			MarginBottom(1)

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 2)

	cardTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	metricLabelStyle = lipgloss.NewStyle().
				Foreground(mutedColor).
				Width(18)

	metricValueStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(textColor)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	alertStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(errorColor)

	progressEmptyStyle = lipgloss.NewStyle().
				Foreground(mutedColor)
)

// bandColor maps a band name to a color. For stress, high is bad.
func bandColor(band string, inverted bool) lipgloss.Color {
	good, bad := secondaryColor, errorColor
	if inverted {
		good, bad = bad, good
	}
	switch band {
	case "high":
		return good
	case "moderate":
		return secondaryColor
	case "fair":
		return warningColor
	case "low":
		return bad
	default:
		return mutedColor
	}
}

// RenderMetric renders a label and value on one line
func RenderMetric(label, value string) string {
	return lipgloss.JoinHorizontal(
		lipgloss.Left,
		metricLabelStyle.Render(label),
		metricValueStyle.Render(value),
	)
}

// RenderProgressBar renders a bar filled to percent (0-1) in color
func RenderProgressBar(percent float64, width int, color lipgloss.Color) string {
	filled := int(percent * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	full := lipgloss.NewStyle().Foreground(color)
	return full.Render(strings.Repeat("█", filled)) +
		progressEmptyStyle.Render(strings.Repeat("░", width-filled))
}
