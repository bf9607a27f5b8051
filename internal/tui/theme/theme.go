// Package theme provides the Lip Gloss palette and shared styles for the
// relay monitor. It is a leaf package with no internal imports.
package theme

import "github.com/charmbracelet/lipgloss"

// Channel colors.
var (
	ColorFront  = lipgloss.Color("#3b82f6")
	ColorDriver = lipgloss.Color("#a855f7")
)

// Verdict colors.
var (
	ColorDrowsy = lipgloss.Color("#dc2626")
	ColorAlert  = lipgloss.Color("#16a34a")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
	ColorInfo    = lipgloss.Color("#2563eb")
	ColorDefault = lipgloss.Color("#9ca3af")
)

// ChannelColor returns the color for a channel name.
func ChannelColor(name string) lipgloss.Color {
	switch name {
	case "frontcam":
		return ColorFront
	case "drivercam":
		return ColorDriver
	default:
		return ColorDefault
	}
}

// HealthColor maps a channel health status to a color.
func HealthColor(status string) lipgloss.Color {
	switch status {
	case "healthy":
		return ColorHealthy
	case "degraded":
		return ColorWarning
	case "idle":
		return ColorDimmed
	default:
		return ColorDefault
	}
}

// VerdictColor colors a classifier result label.
func VerdictColor(result string) lipgloss.Color {
	if result == "Drowsy" {
		return ColorDrowsy
	}
	return ColorAlert
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
		Foreground(ColorDimmed)
)
