// Package field draws the room's canvas onto a grid of terminal cells.
package field

import (
	"math"
	"sort"
	"strings"

	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"

	"github.com/mendebian/p2p-game/internal/node"
	"github.com/mendebian/p2p-game/internal/tui/theme"
)

// FPS is the animation rate of the remote-player springs.
const FPS = 30

const (
	defaultWidth  = 60
	defaultHeight = 20
	settled       = 0.05
)

// sprite is a player's on-screen position chasing its latest snapshot
// position (tx, ty).
type sprite struct {
	x, y   float64
	vx, vy float64
	tx, ty float64
}

// Model holds the field state. Width and Height are the inner size in cells.
type Model struct {
	Width  int
	Height int

	canvasW float64
	canvasH float64
	spring  harmonica.Spring
	self    string
	host    string
	sprites map[string]*sprite
}

// New creates a field for a canvas of the given size.
func New(canvasW, canvasH float64) Model {
	return Model{
		Width:   defaultWidth,
		Height:  defaultHeight,
		canvasW: canvasW,
		canvasH: canvasH,
		spring:  harmonica.NewSpring(harmonica.FPS(FPS), 8.0, 0.8),
		sprites: make(map[string]*sprite),
	}
}

// SetView retargets every sprite. The local player and newcomers jump
// straight to their position; remote players glide there in Animate.
func (m *Model) SetView(v node.View) {
	m.self = v.Self
	m.host = v.HostID
	for id := range m.sprites {
		if _, ok := v.Players[id]; !ok {
			delete(m.sprites, id)
		}
	}
	for id, p := range v.Players {
		s, ok := m.sprites[id]
		if !ok || id == v.Self {
			m.sprites[id] = &sprite{x: p.X, y: p.Y, tx: p.X, ty: p.Y}
			continue
		}
		s.tx, s.ty = p.X, p.Y
	}
}

// Animate advances the springs by one frame and reports whether any sprite
// is still moving.
func (m *Model) Animate() bool {
	moving := false
	for _, s := range m.sprites {
		s.x, s.vx = m.spring.Update(s.x, s.vx, s.tx)
		s.y, s.vy = m.spring.Update(s.y, s.vy, s.ty)
		if math.Abs(s.x-s.tx) > settled || math.Abs(s.y-s.ty) > settled {
			moving = true
			continue
		}
		s.x, s.y, s.vx, s.vy = s.tx, s.ty, 0, 0
	}
	return moving
}

// Position returns where id is currently drawn, in canvas units.
func (m Model) Position(id string) (x, y float64, ok bool) {
	s, ok := m.sprites[id]
	if !ok {
		return 0, 0, false
	}
	return s.x, s.y, true
}

// Cell maps a canvas position to a cell, clamped to the field.
func (m Model) Cell(x, y float64) (col, row int) {
	w, h := m.size()
	col = clamp(int(x/m.canvasW*float64(w)), 0, w-1)
	row = clamp(int(y/m.canvasH*float64(h)), 0, h-1)
	return col, row
}

// CanvasAt maps a cell to the canvas position at its centre. ok is false
// when the cell lies outside the field.
func (m Model) CanvasAt(col, row int) (x, y float64, ok bool) {
	w, h := m.size()
	if col < 0 || row < 0 || col >= w || row >= h {
		return 0, 0, false
	}
	x = (float64(col) + 0.5) / float64(w) * m.canvasW
	y = (float64(row) + 0.5) / float64(h) * m.canvasH
	return x, y, true
}

// View renders the field with a border.
func (m Model) View() string {
	w, h := m.size()
	grid := make([][]string, h)
	for r := range grid {
		grid[r] = make([]string, w)
		for c := range grid[r] {
			grid[r][c] = " "
		}
	}

	// Local player last so it is never hidden under a remote one.
	ids := make([]string, 0, len(m.sprites))
	for id := range m.sprites {
		if id != m.self {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if _, ok := m.sprites[m.self]; ok {
		ids = append(ids, m.self)
	}

	for _, id := range ids {
		s := m.sprites[id]
		col, row := m.Cell(s.x, s.y)
		local := id == m.self
		color := theme.ColorRemote
		if local {
			color = theme.ColorLocal
		}
		glyph := theme.PlayerGlyph(local, id == m.host)
		grid[row][col] = lipgloss.NewStyle().Foreground(color).Bold(local).Render(glyph)
	}

	var b strings.Builder
	for r, line := range grid {
		if r > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.Join(line, ""))
	}
	return theme.StyleBorder.Render(b.String())
}

func (m Model) size() (int, int) {
	w, h := m.Width, m.Height
	if w < 1 {
		w = defaultWidth
	}
	if h < 1 {
		h = defaultHeight
	}
	return w, h
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
