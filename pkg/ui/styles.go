package ui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	neonCyan    = lipgloss.Color("#00FFFF")
	neonMagenta = lipgloss.Color("#FF00FF")
	neonGreen   = lipgloss.Color("#39FF14")
	neonYellow  = lipgloss.Color("#FFFF00")
	neonOrange  = lipgloss.Color("#FF6700")
	alertRed    = lipgloss.Color("#FF0000")
	dimWhite    = lipgloss.Color("#B0B0B0")

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(neonMagenta).
			Padding(0, 2)

	titleStyle = lipgloss.NewStyle().
			Foreground(neonMagenta).
			Bold(true).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(neonCyan).
			Bold(true).
			Width(14)

	valueStyle = lipgloss.NewStyle().
			Foreground(neonYellow)

	mutedStyle = lipgloss.NewStyle().
			Foreground(dimWhite).
			Faint(true)

	barFilledStyle = lipgloss.NewStyle().Foreground(neonGreen)
	barEmptyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#333333"))
)

// rateStyle colours a success percentage.
func rateStyle(percentage float64) lipgloss.Style {
	switch {
	case percentage >= 80:
		return lipgloss.NewStyle().Foreground(neonGreen).Bold(true)
	case percentage >= 50:
		return lipgloss.NewStyle().Foreground(neonYellow).Bold(true)
	case percentage >= 30:
		return lipgloss.NewStyle().Foreground(neonOrange).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(alertRed).Bold(true)
	}
}
