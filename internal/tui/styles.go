package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent  = lipgloss.AdaptiveColor{Light: "#101F38", Dark: "#8BC34A"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#6a737d", Dark: "#8b949e"}
	colorError   = lipgloss.Color("#e53935")
	colorBorder  = lipgloss.AdaptiveColor{Light: "#dce0e5", Dark: "#2a3850"}
	colorZebra   = lipgloss.AdaptiveColor{Light: "#f4f5f6", Dark: "#1a2536"}
	colorHeading = lipgloss.AdaptiveColor{Light: "#101F38", Dark: "#f2f2f2"}
)

// styles groups the styles of the search screen.
type styles struct {
	Title   lipgloss.Style
	Input   lipgloss.Style
	Status  lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style
	Header  lipgloss.Style
	Cell    lipgloss.Style
	OddRow  lipgloss.Style
	Border  lipgloss.Style
	Spinner lipgloss.Style
}

func defaultStyles() styles {
	cell := lipgloss.NewStyle().Padding(0, 1)
	return styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(colorHeading),
		Input:   lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorAccent).Padding(0, 1),
		Status:  lipgloss.NewStyle().Foreground(colorMuted),
		Error:   lipgloss.NewStyle().Foreground(colorError).Bold(true),
		Muted:   lipgloss.NewStyle().Foreground(colorMuted).Italic(true),
		Header:  cell.Bold(true).Foreground(colorAccent),
		Cell:    cell,
		OddRow:  cell.Background(colorZebra),
		Border:  lipgloss.NewStyle().Foreground(colorBorder),
		Spinner: lipgloss.NewStyle().Foreground(colorAccent),
	}
}
