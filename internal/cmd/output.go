package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Iron-Ham/quorum/internal/quorum"
	"github.com/Iron-Ham/quorum/internal/registry"
	"github.com/Iron-Ham/quorum/internal/task"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// defaultWidth is used when stdout is not a terminal.
const defaultWidth = 120

var (
	primaryColor = lipgloss.Color("#A78BFA") // Purple
	greenColor   = lipgloss.Color("#10B981")
	amberColor   = lipgloss.Color("#F59E0B")
	redColor     = lipgloss.Color("#F87171")
	blueColor    = lipgloss.Color("#60A5FA")
	mutedColor   = lipgloss.Color("#9CA3AF")

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	labelStyle  = lipgloss.NewStyle().Foreground(mutedColor)
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
)

func colored(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }

func renderTaskStatus(s task.Status) string {
	switch s {
	case task.StatusCompleted:
		return colored(primaryColor).Render(string(s))
	case task.StatusRunning, task.StatusAssigned:
		return colored(greenColor).Render(string(s))
	case task.StatusReservePending, task.StatusProposalPending, task.StatusCommitted:
		return colored(blueColor).Render(string(s))
	case task.StatusCancelRequested:
		return colored(amberColor).Render(string(s))
	case task.StatusFailed, task.StatusCancelled:
		return colored(redColor).Render(string(s))
	}
	return colored(mutedColor).Render(string(s))
}

func renderHealth(h registry.Health) string {
	switch h {
	case registry.HealthHealthy:
		return colored(greenColor).Render(string(h))
	case registry.HealthDegraded:
		return colored(amberColor).Render(string(h))
	case registry.HealthUnhealthy:
		return colored(redColor).Render(string(h))
	}
	return colored(mutedColor).Render(string(h))
}

func renderProposalState(s quorum.State) string {
	switch s {
	case quorum.StateCommitted:
		return colored(greenColor).Render(string(s))
	case quorum.StateRejected:
		return colored(redColor).Render(string(s))
	}
	return colored(blueColor).Render(string(s))
}

// terminalWidth returns the width of stdout, or defaultWidth when stdout
// is not a terminal.
func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return defaultWidth
	}
	if w, _, err := term.GetSize(fd); err == nil && w > 0 {
		return w
	}
	return defaultWidth
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable writes rows as aligned columns. The last column is truncated
// so rows fit the terminal.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if cw := lipgloss.Width(cell); cw > widths[i] {
				widths[i] = cw
			}
		}
	}

	const gap = 2
	used := 0
	for _, cw := range widths[:len(widths)-1] {
		used += cw + gap
	}
	if last := terminalWidth() - used; last > 8 && last < widths[len(widths)-1] {
		widths[len(widths)-1] = last
	}

	line := func(cells []string, style *lipgloss.Style) {
		var b strings.Builder
		for i, cell := range cells {
			s := lipgloss.NewStyle().MaxWidth(widths[i])
			if style != nil {
				s = s.Inherit(*style)
			}
			rendered := s.Render(cell)
			b.WriteString(rendered)
			if i < len(cells)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(rendered)+gap))
			}
		}
		fmt.Fprintln(w, b.String())
	}

	line(headers, &headerStyle)
	for _, row := range rows {
		line(row, nil)
	}
}

// printFields writes label/value pairs, one per line.
func printFields(w io.Writer, fields [][2]string) {
	width := 0
	for _, f := range fields {
		if len(f[0]) > width {
			width = len(f[0])
		}
	}
	for _, f := range fields {
		label := labelStyle.Render(f[0] + ":")
		fmt.Fprintf(w, "%s%s %s\n", label, strings.Repeat(" ", width-len(f[0])), f[1])
	}
}
