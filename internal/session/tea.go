package session

import tea "github.com/charmbracelet/bubbletea"

// EventMsg wraps an Event for delivery to a Bubble Tea program.
type EventMsg struct {
	Event Event
}

// ClosedMsg is delivered once the subscription channel is closed.
type ClosedMsg struct{}

// WaitForEvent returns a tea.Cmd that blocks until the next event on ch.
// The model re-issues it after handling each EventMsg.
func WaitForEvent(ch <-chan Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return ClosedMsg{}
		}
		return EventMsg{Event: ev}
	}
}
