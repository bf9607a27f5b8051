// Package statusbar renders the one-line connection and hub summary.
package statusbar

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/drivecam/relay/internal/status"
	"github.com/drivecam/relay/internal/tui/theme"
)

// Model holds the status bar state.
type Model struct {
	Connected bool
	URL       string
	Report    *status.Report
	Err       error
	Width     int
}

func New(url string) Model {
	return Model{URL: url}
}

// View renders the status bar.
func (m Model) View() string {
	width := max(m.Width, 40)

	var conn string
	if m.Connected {
		conn = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● Connected")
	} else {
		conn = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Connecting...")
	}
	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := conn + sep + theme.StyleDimmed.Render(m.URL)

	switch {
	case m.Err != nil:
		content += sep + lipgloss.NewStyle().Foreground(theme.ColorWarning).Render("status unavailable")
	case m.Report != nil:
		r := m.Report
		content += sep + fmt.Sprintf("%d sessions  up %s", r.Sessions, r.Uptime)

		mqtt := lipgloss.NewStyle().Foreground(theme.ColorDimmed).Render("mqtt off")
		if r.Sink.Connected {
			mqtt = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("mqtt " + r.Sink.Broker)
		} else if r.Sink.Broker != "" {
			mqtt = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("mqtt down")
		}
		content += sep + mqtt

		if p := r.Process; p != nil {
			content += sep + fmt.Sprintf("cpu %.1f%%  rss %d MiB", p.CPUPercent, p.RSSBytes>>20)
		}
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}
