// Package theme provides the Lip Gloss color palette and reusable styles
// for the peer TUI. It is a leaf package with no internal imports.
package theme

import "github.com/charmbracelet/lipgloss"

// Player colors.
var (
	ColorLocal  = lipgloss.Color("#22c55e")
	ColorRemote = lipgloss.Color("#3b82f6")
	ColorHost   = lipgloss.Color("#f59e0b")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorBg      = lipgloss.Color("#111827")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

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

	StyleOverlay = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBright).
			Padding(1, 2)
)

// StatusColor maps a node status name to a color.
func StatusColor(status string) lipgloss.Color {
	switch status {
	case "hosting", "joined":
		return ColorHealthy
	case "joining", "electing":
		return ColorWarning
	case "offline":
		return ColorDanger
	default:
		return ColorDimmed
	}
}

// PlayerGlyph returns the marker drawn for a player on the field.
func PlayerGlyph(local, host bool) string {
	switch {
	case host:
		return "◆"
	case local:
		return "●"
	default:
		return "○"
	}
}
