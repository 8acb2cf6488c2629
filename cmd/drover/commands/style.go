package commands

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/evrane/drover"
)

var (
	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f"))
	styleDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681"))
	styleErr    = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5f5f"))
	stylePause  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ffd75f"))
	styleDone   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5fd7ff"))
	styleLive   = lipgloss.NewStyle().Foreground(lipgloss.Color("#00ff9f"))
)

// stateStyle colors a state by its class: live green, paused yellow,
// completed blue, error red.
func stateStyle(s drover.State) lipgloss.Style {
	switch {
	case s == drover.StateError:
		return styleErr
	case s == drover.StateCompleted:
		return styleDone
	case s.IsLive():
		return styleLive
	case s.IsPaused():
		return stylePause
	default:
		return styleDim
	}
}

// renderTable prints rows under a styled header, columns padded to fit.
func renderTable(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var sb strings.Builder
	for i, h := range header {
		sb.WriteString(styleHeader.Render(pad(h, widths[i])))
		if i < len(header)-1 {
			sb.WriteString("  ")
		}
	}
	sb.WriteString("\n")
	for _, row := range rows {
		for i, cell := range row {
			sb.WriteString(pad(cell, widths[i]))
			if i < len(row)-1 {
				sb.WriteString("  ")
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func pad(s string, w int) string {
	if d := w - lipgloss.Width(s); d > 0 {
		return s + strings.Repeat(" ", d)
	}
	return s
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func money(v float64) string {
	return fmt.Sprintf("$%.4f", v)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
