// Package debug provides the scrollable event log panel.
package debug

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/drivecam/relay/internal/tui/theme"
)

const maxEntries = 200

// Entry kinds.
const (
	KindWS     = "ws"
	KindAck    = "ack"
	KindDrowsy = "drw"
	KindHTTP   = "http"
	KindErr    = "err"
)

type Entry struct {
	Time    time.Time
	Kind    string
	Message string
}

type Model struct {
	Entries []Entry
	Offset  int // lines scrolled up from the bottom

	now func() time.Time
}

func New() Model {
	return Model{now: time.Now}
}

// Add appends an entry, drops the oldest past maxEntries and scrolls back
// to the bottom.
func (m *Model) Add(kind, message string) {
	now := time.Now
	if m.now != nil {
		now = m.now
	}
	m.Entries = append(m.Entries, Entry{Time: now(), Kind: kind, Message: message})
	if len(m.Entries) > maxEntries {
		m.Entries = m.Entries[len(m.Entries)-maxEntries:]
	}
	m.Offset = 0
}

// Addf is Add with formatting.
func (m *Model) Addf(kind, format string, args ...any) {
	m.Add(kind, fmt.Sprintf(format, args...))
}

func (m *Model) ScrollUp(n int) {
	m.Offset = min(m.Offset+n, max(len(m.Entries)-1, 0))
}

func (m *Model) ScrollDown(n int) {
	m.Offset = max(m.Offset-n, 0)
}

// View renders the log inside a bordered panel sized to width x height.
func (m Model) View(width, height int) string {
	innerW := max(width-4, 20)
	visible := max(height-6, 3)

	title := theme.StyleHeader.Render(" EVENT LOG ")
	help := theme.StyleDimmed.Render(fmt.Sprintf("j/k:scroll  l:close  %d entries", len(m.Entries)))

	if len(m.Entries) == 0 {
		body := theme.StyleDimmed.Render("  No events recorded yet.")
		return panel(innerW).Render(lipgloss.JoinVertical(lipgloss.Left, title, "", body, "", help))
	}

	end := max(len(m.Entries)-m.Offset, 0)
	start := max(end-visible, 0)

	lines := make([]string, 0, end-start)
	for _, e := range m.Entries[start:end] {
		ts := theme.StyleDimmed.Render(e.Time.Format("15:04:05.000"))
		kind := lipgloss.NewStyle().Foreground(kindColor(e.Kind)).Width(4).Render(e.Kind)
		msg := e.Message
		if innerW > 23 && len(msg) > innerW-20 {
			msg = msg[:innerW-23] + "..."
		}
		lines = append(lines, fmt.Sprintf("%s %s %s", ts, kind, msg))
	}

	more := ""
	if m.Offset > 0 {
		more = theme.StyleDimmed.Render(fmt.Sprintf(" ↓ %d more", m.Offset))
	}
	return panel(innerW).Render(lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n"), more, help))
}

func panel(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Width(width).
		Padding(1, 2).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder)
}

func kindColor(kind string) lipgloss.Color {
	switch kind {
	case KindWS:
		return theme.ColorInfo
	case KindAck:
		return theme.ColorHealthy
	case KindDrowsy:
		return theme.ColorWarning
	case KindErr:
		return theme.ColorDanger
	default:
		return theme.ColorDimmed
	}
}
