// Package help renders the key reference shown in the help overlay.
package help

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/glamour"
)

// Render lays out bindings as a markdown table rendered for a terminal
// of the given width. If glamour fails the raw markdown is returned.
func Render(bindings []key.Binding, width int) string {
	md := Markdown(bindings)
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n")
}

// Markdown returns the help text before rendering.
func Markdown(bindings []key.Binding) string {
	var b strings.Builder
	b.WriteString("# Controls\n\n")
	b.WriteString("| key | action |\n|---|---|\n")
	for _, kb := range bindings {
		h := kb.Help()
		if h.Key == "" {
			continue
		}
		b.WriteString("| `" + h.Key + "` | " + h.Desc + " |\n")
	}
	b.WriteString("\nClick anywhere on the field to move your player there. ")
	b.WriteString("Points can only be awarded by the host.\n")
	return b.String()
}
