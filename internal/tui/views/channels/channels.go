// Package channels renders per-channel frame counters and the latest
// drowsiness verdict.
package channels

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/drivecam/relay/internal/frame"
	"github.com/drivecam/relay/internal/status"
	"github.com/drivecam/relay/internal/tui/theme"
)

// fpsWindow is how far back arrivals count towards the frame rate.
const fpsWindow = 5 * time.Second

// Stats accumulates what the monitor has seen on one channel.
type Stats struct {
	Frames   int
	LastSize int
	LastAt   time.Time

	arrivals []time.Time
}

// Record counts one frame of size bytes received at.
func (s *Stats) Record(size int, at time.Time) {
	s.Frames++
	s.LastSize = size
	s.LastAt = at
	s.arrivals = append(s.arrivals, at)
	s.trim(at)
}

// FPS is the arrival rate over the last fpsWindow ending at now.
func (s *Stats) FPS(now time.Time) float64 {
	s.trim(now)
	return float64(len(s.arrivals)) / fpsWindow.Seconds()
}

func (s *Stats) trim(now time.Time) {
	cutoff := now.Add(-fpsWindow)
	i := 0
	for i < len(s.arrivals) && !s.arrivals[i].After(cutoff) {
		i++
	}
	s.arrivals = s.arrivals[i:]
}

type Model struct {
	Stats  map[frame.Channel]*Stats
	Health map[frame.Channel]status.ChannelReport
	Drowsy *frame.DetectionResult
	Width  int
}

func New() Model {
	m := Model{
		Stats:  make(map[frame.Channel]*Stats, len(frame.Channels)),
		Health: make(map[frame.Channel]status.ChannelReport, len(frame.Channels)),
	}
	for _, ch := range frame.Channels {
		m.Stats[ch] = &Stats{}
	}
	return m
}

func (m *Model) Record(ch frame.Channel, size int, at time.Time) {
	s, ok := m.Stats[ch]
	if !ok {
		s = &Stats{}
		m.Stats[ch] = s
	}
	s.Record(size, at)
}

func (m *Model) SetDrowsy(r frame.DetectionResult) {
	m.Drowsy = &r
}

// SetReport copies the hub-side view of each channel from a status report.
func (m *Model) SetReport(rep *status.Report) {
	if rep == nil {
		return
	}
	for _, c := range rep.Channels {
		m.Health[c.Channel] = c
	}
}

// View renders one row per channel followed by the drowsiness line.
func (m Model) View(now time.Time) string {
	header := theme.StyleHeader.Render(fmt.Sprintf("%-10s %8s %10s %7s %9s  %s",
		"CHANNEL", "FRAMES", "LAST", "FPS", "PRODUCERS", "HEALTH"))
	lines := []string{header}

	for _, ch := range frame.Channels {
		s := m.Stats[ch]
		name := lipgloss.NewStyle().Foreground(theme.ChannelColor(ch.String())).Render(fmt.Sprintf("%-10s", ch))

		producers, health := "-", theme.StyleDimmed.Render("unknown")
		if h, ok := m.Health[ch]; ok {
			producers = fmt.Sprintf("%d", h.Producers)
			health = lipgloss.NewStyle().Foreground(theme.HealthColor(string(h.Status))).Render(string(h.Status))
			if h.LastError != "" {
				health += theme.StyleDimmed.Render(" (" + h.LastError + ")")
			}
		}

		lines = append(lines, fmt.Sprintf("%s %8d %10s %7.1f %9s  %s",
			name, s.Frames, humanBytes(s.LastSize), s.FPS(now), producers, health))
	}

	lines = append(lines, "", m.drowsyLine(now))

	return theme.StyleBorder.
		Width(max(m.Width-2, 40)).
		Padding(0, 1).
		Render(strings.Join(lines, "\n"))
}

func (m Model) drowsyLine(now time.Time) string {
	if m.Drowsy == nil {
		return theme.StyleDimmed.Render("driver state: no result yet")
	}
	r := m.Drowsy
	verdict := lipgloss.NewStyle().Bold(true).Foreground(theme.VerdictColor(r.Result)).Render(r.Result)
	at := time.Unix(0, int64(r.Timestamp*1e9))
	age := now.Sub(at).Truncate(time.Second)
	return fmt.Sprintf("driver state: %s  p=%.2f  %s ago", verdict, r.Probability, age)
}

func humanBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
