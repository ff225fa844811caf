package main

import "github.com/charmbracelet/lipgloss"

var (
	accent = lipgloss.Color("#00D4FF")
	subtle = lipgloss.Color("#666666")
	green  = lipgloss.Color("#04B575")
	yellow = lipgloss.Color("#E5C07B")
	red    = lipgloss.Color("#FF4444")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(accent)
	labelStyle = lipgloss.NewStyle().Foreground(subtle).Width(12)
	okStyle    = lipgloss.NewStyle().Bold(true).Foreground(green)
	warnStyle  = lipgloss.NewStyle().Bold(true).Foreground(yellow)
	errStyle   = lipgloss.NewStyle().Bold(true).Foreground(red)
	dimStyle   = lipgloss.NewStyle().Foreground(subtle)
)

// stateStyle colors a connection state name.
func stateStyle(state string) lipgloss.Style {
	switch state {
	case "open":
		return okStyle
	case "closed-terminal":
		return errStyle
	case "":
		return dimStyle
	default:
		return warnStyle
	}
}
