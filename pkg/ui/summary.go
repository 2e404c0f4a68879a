package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"igcrawler/pkg/crawler"
)

// RenderSummary draws the end-of-run box.
func RenderSummary(s crawler.Summary) string {
	title := "Crawl complete"
	if s.Interrupted {
		title = "Crawl interrupted"
	}

	rows := []string{
		row("Processed", fmt.Sprintf("%d / %d", s.Processed, s.Total)),
		row("Succeeded", fmt.Sprintf("%d", s.Succeeded)),
		row("Partial", fmt.Sprintf("%d", s.Partial)),
		row("Not found", fmt.Sprintf("%d", s.Terminal)),
		row("Exhausted", fmt.Sprintf("%d", s.Exhausted)),
		labelStyle.Render("Success rate") + rateStyle(s.SuccessRate()).Render(fmt.Sprintf("%.1f%%", s.SuccessRate())),
		row("Rotations", fmt.Sprintf("%d", s.Rotations)),
		row("Rate limits", fmt.Sprintf("%d", s.RateLimits)),
		row("Flushes", fmt.Sprintf("%d", s.Flushes)),
		row("Elapsed", FormatDuration(s.Elapsed)),
	}
	if s.Elapsed >= time.Second && s.Processed > 0 {
		rows = append(rows, row("Throughput", fmt.Sprintf("%.1f/min", float64(s.Processed)/s.Elapsed.Minutes())))
	}

	body := lipgloss.JoinVertical(lipgloss.Left, append([]string{titleStyle.Render(title)}, rows...)...)
	return boxStyle.Render(body)
}

// RenderScan draws the discovery result box.
func RenderScan(found int, fallback string, sample []string) string {
	rows := []string{
		titleStyle.Render("Scan complete"),
		row("Usernames", fmt.Sprintf("%d", found)),
	}
	if fallback != "" {
		rows = append(rows, row("Fallback", fallback))
	}
	if len(sample) > 0 {
		shown := sample
		if len(shown) > 5 {
			shown = shown[:5]
		}
		more := ""
		if len(sample) > len(shown) {
			more = fmt.Sprintf(" (+%d)", len(sample)-len(shown))
		}
		rows = append(rows, row("First", strings.Join(shown, ", ")+more))
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func row(label, value string) string {
	return labelStyle.Render(label) + valueStyle.Render(value)
}

// FormatDuration prints d as 42s, 3m05s or 1h20m.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
