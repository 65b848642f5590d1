// Package app is the root bubbletea model of the peer: it renders node
// views and turns keys and clicks into node actions.
package app

import (
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mendebian/p2p-game/internal/node"
	"github.com/mendebian/p2p-game/internal/session"
	"github.com/mendebian/p2p-game/internal/tui/theme"
	"github.com/mendebian/p2p-game/internal/tui/views/field"
	"github.com/mendebian/p2p-game/internal/tui/views/help"
	"github.com/mendebian/p2p-game/internal/tui/views/share"
	"github.com/mendebian/p2p-game/internal/tui/views/status"
)

// Peer is the part of node.Node the UI drives.
type Peer interface {
	ID() string
	Move(dx, dy float64) error
	MoveTo(x, y float64) error
	AwardPoint(side session.Side) error
	Subscribe() *node.Subscriber[node.View]
	Alerts() <-chan node.Alert
	Done() <-chan struct{}
}

// Overlay identifies which panel, if any, covers the field.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayHelp
	OverlayShare
	OverlayAlert
)

// chromeHeight is the rows used by the field border, the status bar and
// the help line.
const chromeHeight = 2 + 3 + 1

type (
	viewMsg    node.View
	alertMsg   node.Alert
	frameMsg   time.Time
	errMsg     struct{ err error }
	stoppedMsg struct{}
)

// Model is the root bubbletea model.
type Model struct {
	peer Peer
	sub  *node.Subscriber[node.View]
	keys KeyMap
	step float64

	width  int
	height int

	view      node.View
	field     field.Model
	statusBar status.Model
	overlay   Overlay
	alert     node.Alert
	lastErr   error
	animating bool
}

// New builds the UI for peer. step is how far one key press moves the
// local player, in canvas units.
func New(peer Peer, canvasW, canvasH, step float64) Model {
	return Model{
		peer:      peer,
		sub:       peer.Subscribe(),
		keys:      DefaultKeyMap(),
		step:      step,
		field:     field.New(canvasW, canvasH),
		statusBar: status.New(),
	}
}

// Init starts listening for views and alerts.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitForView(), m.waitForAlert())
}

func (m Model) waitForView() tea.Cmd {
	sub, done := m.sub, m.peer.Done()
	return func() tea.Msg {
		select {
		case v := <-sub.Recv():
			return viewMsg(v)
		case <-done:
			return stoppedMsg{}
		}
	}
}

func (m Model) waitForAlert() tea.Cmd {
	alerts, done := m.peer.Alerts(), m.peer.Done()
	return func() tea.Msg {
		select {
		case a := <-alerts:
			return alertMsg(a)
		case <-done:
			return nil
		}
	}
}

func animate() tea.Cmd {
	return tea.Tick(time.Second/field.FPS, func(t time.Time) tea.Msg {
		return frameMsg(t)
	})
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.field.Width = max(msg.Width-2, 10)
		m.field.Height = max(msg.Height-chromeHeight, 5)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		return m.handleMouse(msg)

	case viewMsg:
		m.view = node.View(msg)
		m.statusBar.View = m.view
		m.field.SetView(m.view)
		cmds := []tea.Cmd{m.waitForView()}
		if !m.animating {
			m.animating = true
			cmds = append(cmds, animate())
		}
		return m, tea.Batch(cmds...)

	case frameMsg:
		if m.field.Animate() {
			return m, animate()
		}
		m.animating = false
		return m, nil

	case alertMsg:
		m.alert = node.Alert(msg)
		m.overlay = OverlayAlert
		return m, m.waitForAlert()

	case errMsg:
		m.lastErr = msg.err
		return m, nil

	case stoppedMsg:
		return m, tea.Quit
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.sub.Done()
		return m, tea.Quit
	}

	if m.overlay != OverlayNone {
		switch {
		case key.Matches(msg, m.keys.Escape):
			m.overlay = OverlayNone
		case key.Matches(msg, m.keys.Help):
			m.toggle(OverlayHelp)
		case key.Matches(msg, m.keys.Share):
			m.toggle(OverlayShare)
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Up):
		return m.act(m.peer.Move(0, -m.step))
	case key.Matches(msg, m.keys.Down):
		return m.act(m.peer.Move(0, m.step))
	case key.Matches(msg, m.keys.Left):
		return m.act(m.peer.Move(-m.step, 0))
	case key.Matches(msg, m.keys.Right):
		return m.act(m.peer.Move(m.step, 0))

	case key.Matches(msg, m.keys.HomeGoal):
		return m, m.award(session.SideHome)
	case key.Matches(msg, m.keys.AwayGoal):
		return m, m.award(session.SideAway)

	case key.Matches(msg, m.keys.Help):
		m.toggle(OverlayHelp)
	case key.Matches(msg, m.keys.Share):
		m.toggle(OverlayShare)
	}
	return m, nil
}

// handleMouse moves the local player to a left click on the field. The
// field's border puts its first cell at (1, 1).
func (m Model) handleMouse(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	if m.overlay != OverlayNone || msg.Action != tea.MouseActionPress || msg.Button != tea.MouseButtonLeft {
		return m, nil
	}
	x, y, ok := m.field.CanvasAt(msg.X-1, msg.Y-1)
	if !ok {
		return m, nil
	}
	return m.act(m.peer.MoveTo(x, y))
}

func (m Model) act(err error) (tea.Model, tea.Cmd) {
	if errors.Is(err, node.ErrNodeStopped) {
		return m, tea.Quit
	}
	m.lastErr = err
	return m, nil
}

func (m Model) award(side session.Side) tea.Cmd {
	if !m.view.IsHost {
		return func() tea.Msg { return errMsg{node.ErrNotHost} }
	}
	peer := m.peer
	return func() tea.Msg {
		return errMsg{peer.AwardPoint(side)}
	}
}

func (m *Model) toggle(o Overlay) {
	if m.overlay == o {
		m.overlay = OverlayNone
		return
	}
	m.overlay = o
}

func (m Model) bindings() []key.Binding {
	k := m.keys
	return []key.Binding{k.Up, k.Down, k.Left, k.Right, k.HomeGoal, k.AwayGoal, k.Share, k.Help, k.Escape, k.Quit}
}

// View renders the UI.
func (m Model) View() string {
	var main string
	switch m.overlay {
	case OverlayHelp:
		main = theme.StyleOverlay.Render(help.Render(m.bindings(), max(m.width-8, 40)))
	case OverlayShare:
		main = theme.StyleOverlay.Render(share.Render(m.view.HostID))
	case OverlayAlert:
		main = theme.StyleOverlay.
			BorderForeground(theme.ColorDanger).
			Render(lipgloss.JoinVertical(lipgloss.Left,
				lipgloss.NewStyle().Foreground(theme.ColorDanger).Bold(true).Render(m.alert.String()),
				theme.StyleDimmed.Render(m.alert.At.Format(time.Kitchen)+"  esc to dismiss"),
			))
	default:
		main = m.field.View()
	}

	helpLine := theme.StyleDimmed.Render("wasd/arrows move  click move-to  1/2 score  r share  ? help  q quit")
	if m.lastErr != nil {
		helpLine = lipgloss.NewStyle().Foreground(theme.ColorWarning).Render(m.lastErr.Error())
	}

	return lipgloss.JoinVertical(lipgloss.Left, main, m.statusBar.Render(), helpLine)
}
