// ABOUTME: TUI initialization and control
// ABOUTME: Wraps bubbletea program for the monitor UI
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Run starts the monitor TUI. The caller feeds snapshots in with
// Program.Send(StatusMsg{...}).
func Run() (*tea.Program, error) {
	p := tea.NewProgram(NewModel(), tea.WithAltScreen())
	return p, nil
}
