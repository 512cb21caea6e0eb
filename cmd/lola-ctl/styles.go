package main

import "github.com/charmbracelet/lipgloss"

// Color palette, following the pithecene-io-quarry TUI package's
// lipgloss conventions: named semantic colors rather than inline hex
// scattered through the render code.
var (
	primaryColor = lipgloss.Color("#7C3AED")
	mutedColor   = lipgloss.Color("#6B7280")
	readyColor   = lipgloss.Color("#10B981")
	freeColor    = lipgloss.Color("#6B7280")
	invalidColor = lipgloss.Color("#EF4444")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(mutedColor)

	readyStyle   = lipgloss.NewStyle().Foreground(readyColor)
	freeStyle    = lipgloss.NewStyle().Foreground(freeColor)
	invalidStyle = lipgloss.NewStyle().Foreground(invalidColor)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)
)

func slotStateStyle(ready, free, invalid bool) lipgloss.Style {
	switch {
	case invalid:
		return invalidStyle
	case ready:
		return readyStyle
	case free:
		return freeStyle
	default:
		return lipgloss.NewStyle()
	}
}
