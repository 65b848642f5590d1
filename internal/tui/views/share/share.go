// Package share renders the room id so another player can join.
package share

import (
	"github.com/charmbracelet/lipgloss"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/mendebian/p2p-game/internal/tui/theme"
)

// Render shows the room id and, when it can be encoded, a QR code of it.
func Render(roomID string) string {
	if roomID == "" {
		return theme.StyleDimmed.Render("Not in a room. Create or join one first.")
	}
	title := theme.StyleHeader.Render("Room " + roomID)
	hint := theme.StyleDimmed.Render("peer --join " + roomID)

	q, err := qrcode.New(roomID, qrcode.Medium)
	if err != nil {
		return lipgloss.JoinVertical(lipgloss.Left, title, hint)
	}
	return lipgloss.JoinVertical(lipgloss.Left, title, "", q.ToSmallString(false), hint)
}
