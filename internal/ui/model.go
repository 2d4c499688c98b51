// ABOUTME: Bubbletea model for the NetClocks monitor TUI
// ABOUTME: Defines application state and update logic
package ui

import (
	"fmt"

	"github.com/NetClocks-Protocol/netclocks-go/internal/node"
	"github.com/NetClocks-Protocol/netclocks-go/internal/protocol"
	tea "github.com/charmbracelet/bubbletea"
)

// StatusMsg carries a fresh node snapshot into the TUI.
type StatusMsg node.Status

// DisconnectedMsg marks the status feed as gone.
type DisconnectedMsg struct{ Err error }

// Model represents the TUI state
type Model struct {
	// Feed
	connected bool
	feedErr   error

	// Node
	status node.Status

	// Debug
	showDebug bool

	// Dimensions
	width  int
	height int
}

// NewModel creates a monitor model awaiting its first snapshot.
func NewModel() Model {
	return Model{}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.connected = true
		m.feedErr = nil
		m.status = node.Status(msg)
	case DisconnectedMsg:
		m.connected = false
		m.feedErr = msg.Err
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	s := ""
	s += m.renderHeader()
	s += m.renderClock()
	s += m.renderPeers()

	if m.showDebug {
		s += m.renderDebug()
	}

	s += m.renderHelp()

	return s
}

// renderHeader renders feed and sync status
func (m Model) renderHeader() string {
	feed := "Waiting for status feed..."
	if m.connected {
		feed = fmt.Sprintf("%s (%s)", m.status.Address, truncate(m.status.NodeID, 20))
	} else if m.feedErr != nil {
		feed = fmt.Sprintf("Feed lost: %v", m.feedErr)
	}

	syncIcon := "✗"
	syncText := "Unsynchronized"
	switch {
	case m.status.Leader:
		syncIcon = "★"
		syncText = "Leader (level 0)"
	case m.status.Synced:
		syncIcon = "✓"
		syncText = fmt.Sprintf("Level %d via %s", m.status.SyncLevel, m.status.Source)
	}

	return fmt.Sprintf(`┌─ NetClocks Monitor ──────────────────────────────────┐
│ Node:   %-45s │
│ Sync:   %s %-42s │
├──────────────────────────────────────────────────────┤
`, truncate(feed, 45), syncIcon, truncate(syncText, 42))
}

// renderClock renders the node's current timeline
func (m Model) renderClock() string {
	if !m.connected {
		return "│ No snapshot yet                                      │\n"
	}

	return fmt.Sprintf("│ Time:   %-13dms  Offset: %+-8dms%-7s │\n"+
		"│ Confidence: %-5.2f  Uptime: %-6ds%-15s │\n",
		m.status.TimeMs, m.status.OffsetMs, "",
		m.status.Confidence, m.status.UptimeSec, "")
}

// renderPeers renders the peer table
func (m Model) renderPeers() string {
	s := "├──────────────────────────────────────────────────────┤\n"
	if len(m.status.Peers) == 0 {
		return s + "│ No peers                                             │\n"
	}

	s += fmt.Sprintf("│ %-21s %-11s %3s %8s %6s │\n", "Peer", "State", "Lvl", "Offset", "Delay")
	for _, p := range m.status.Peers {
		s += fmt.Sprintf("│ %-21s %-11s %3s %7dms %4dms │\n",
			truncate(p.ID, 21), p.State, levelText(p.SyncLevel), p.Offset, p.Delay)
	}
	return s
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	return `│ d:Debug  q:Quit                                      │
└──────────────────────────────────────────────────────┘
`
}

// renderDebug renders debug information
func (m Model) renderDebug() string {
	return fmt.Sprintf(`│ DEBUG:                                               │
│   Peers tracked: %-4d                               │
│   Window: %dx%d%-36s │
`, len(m.status.Peers), m.width, m.height, "")
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// Utility functions
func levelText(level byte) string {
	if level == protocol.LevelUnsynchronized {
		return "-"
	}
	return fmt.Sprintf("%d", level)
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
