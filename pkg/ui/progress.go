package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"igcrawler/pkg/crawler"
)

const barWidth = 20

// ProgressLine redraws a single status line after every flush. Its Update
// method fits crawler.Options.Progress.
type ProgressLine struct {
	mu    sync.Mutex
	out   io.Writer
	start time.Time
	now   func() time.Time
	width int
}

func NewProgressLine(out io.Writer) *ProgressLine {
	return &ProgressLine{out: out, start: time.Now(), now: time.Now}
}

func (p *ProgressLine) Update(s crawler.Summary) {
	p.mu.Lock()
	defer p.mu.Unlock()

	line := p.render(s)
	pad := ""
	if n := lipgloss.Width(line); n < p.width {
		pad = strings.Repeat(" ", p.width-n)
	}
	p.width = lipgloss.Width(line)
	fmt.Fprintf(p.out, "\r%s%s", line, pad)
}

// Done ends the status line.
func (p *ProgressLine) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.width > 0 {
		fmt.Fprintln(p.out)
	}
	p.width = 0
}

func (p *ProgressLine) render(s crawler.Summary) string {
	parts := []string{
		fmt.Sprintf("[%s] %d/%d", Bar(s.Processed, s.Total), s.Processed, s.Total),
		Green(fmt.Sprintf("%d ok", s.Succeeded+s.Partial)),
	}
	if failed := s.Failed(); failed > 0 {
		parts = append(parts, Red(fmt.Sprintf("%d failed", failed)))
	}

	elapsed := p.now().Sub(p.start)
	if elapsed > 0 && s.Processed > 0 {
		rate := float64(s.Processed) / elapsed.Minutes()
		parts = append(parts, fmt.Sprintf("%.1f/min", rate))
		if remaining := s.Total - s.Processed; remaining > 0 {
			eta := time.Duration(float64(remaining) / float64(s.Processed) * float64(elapsed))
			parts = append(parts, "ETA "+FormatDuration(eta))
		}
	}
	return strings.Join(parts, " • ")
}

// Bar renders done out of total as a fixed-width bar.
func Bar(done, total int) string {
	filled := 0
	if total > 0 {
		filled = min(barWidth, done*barWidth/total)
	}
	return barFilledStyle.Render(strings.Repeat("━", filled)) +
		barEmptyStyle.Render(strings.Repeat("─", barWidth-filled))
}
