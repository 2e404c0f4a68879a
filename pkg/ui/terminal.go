package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

const banner = `
  ╦╔═╗  ╔═╗╦═╗╔═╗╦ ╦╦  ╔═╗╦═╗
  ║║ ╦  ║  ╠╦╝╠═╣║║║║  ║╣ ╠╦╝
  ╩╚═╝  ╚═╝╩╚═╩ ╩╚╩╝╩═╝╚═╝╩╚═
`

// Output is where the Print helpers write.
var Output io.Writer = os.Stdout

var (
	Cyan    = colorize(neonCyan)
	Yellow  = colorize(neonYellow)
	Red     = colorize(alertRed)
	Green   = colorize(neonGreen)
	Magenta = colorize(neonMagenta)
	Dim     = func(text string) string { return mutedStyle.Render(text) }
)

func colorize(c lipgloss.Color) func(string) string {
	style := lipgloss.NewStyle().Foreground(c)
	return func(text string) string {
		return style.Render(text)
	}
}

func PrintBanner(version string) {
	fmt.Fprint(Output, Cyan(banner))
	fmt.Fprintln(Output, Dim("  crawl resilience engine v"+version))
	fmt.Fprintln(Output)
}

func PrintError(msg string, err error) {
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	fmt.Fprintln(Output, Red("✗ "+msg))
}

func PrintSuccess(msg string) {
	fmt.Fprintln(Output, Green("✓ "+msg))
}

// PrintInfo prints a label/value pair.
func PrintInfo(label, value string) {
	fmt.Fprintf(Output, "%s: %s\n", Cyan(label), Yellow(value))
}

func PrintWarning(msg string) {
	fmt.Fprintln(Output, Yellow("⚠ "+msg))
}
