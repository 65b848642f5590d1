package status

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/mendebian/p2p-game/internal/node"
	"github.com/mendebian/p2p-game/internal/tui/theme"
)

// Model holds the status bar state.
type Model struct {
	View  node.View
	Width int
}

// New creates a status bar model.
func New() Model {
	return Model{}
}

// Render renders the status bar.
func (m Model) Render() string {
	width := m.Width
	if width < 40 {
		width = 40
	}
	v := m.View

	status := v.Status.String()
	statusStr := lipgloss.NewStyle().Foreground(theme.StatusColor(status)).Render("● " + status)

	var room string
	switch {
	case v.HostID == "":
		room = theme.StyleDimmed.Render("no room")
	case v.IsHost:
		room = lipgloss.NewStyle().Foreground(theme.ColorHost).Render("hosting " + v.HostID)
	default:
		room = "host " + lipgloss.NewStyle().Foreground(theme.ColorHost).Render(v.HostID)
	}

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := statusStr + sep + room + sep + fmt.Sprintf("%d players", len(v.Players))
	if v.Epoch > 1 {
		content += sep + fmt.Sprintf("epoch %d", v.Epoch)
	}
	if score := v.Score.Format(v.ScoreMode); score != "" {
		content += sep + theme.StyleHeader.Render(score)
	}
	content += sep + theme.StyleDimmed.Render("you: "+v.Self)

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}
