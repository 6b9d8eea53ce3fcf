package app

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/chatsync/internal/api"
	"github.com/nhle/chatsync/internal/model"
	"github.com/nhle/chatsync/internal/notify"
)

// opDoneMsg reports the outcome of a controller operation run as a command.
type opDoneMsg struct {
	op  string
	err error
}

// noticeMsg carries a notice dispatcher change to the UI.
type noticeMsg struct {
	change notify.Change
}

// noticesClosedMsg is sent once the dispatcher is closed.
type noticesClosedMsg struct{}

// waitForNotice returns a command that blocks until the next notice change.
func waitForNotice(ch <-chan notify.Change) tea.Cmd {
	return func() tea.Msg {
		c, ok := <-ch
		if !ok {
			return noticesClosedMsg{}
		}
		return noticeMsg{change: c}
	}
}

func (m Model) loadPersonas() tea.Cmd {
	c := m.ctrl
	return func() tea.Msg {
		_, err := c.LoadPersonas(context.Background())
		return opDoneMsg{op: "load personas", err: err}
	}
}

func (m Model) restore() tea.Cmd {
	c := m.ctrl
	return func() tea.Msg {
		return opDoneMsg{op: "restore", err: c.RestoreFromStore(context.Background())}
	}
}

func (m Model) startSession(personaID string) tea.Cmd {
	c := m.ctrl
	return func() tea.Msg {
		return opDoneMsg{op: "start", err: c.Start(context.Background(), personaID)}
	}
}

func (m Model) send(text string) tea.Cmd {
	c := m.ctrl
	return func() tea.Msg {
		_, err := c.Send(context.Background(), text)
		return opDoneMsg{op: "send", err: err}
	}
}

func (m Model) endSession() tea.Cmd {
	c := m.ctrl
	return func() tea.Msg {
		return opDoneMsg{op: "end", err: c.End()}
	}
}

func (m Model) refreshAlerts() tea.Cmd {
	c := m.ctrl
	return func() tea.Msg {
		_, err := c.RefreshAlerts(context.Background(), api.AlertFilter{})
		return opDoneMsg{op: "refresh alerts", err: err}
	}
}

func (m Model) markDone(alertID string) tea.Cmd {
	c := m.ctrl
	return func() tea.Msg {
		return opDoneMsg{op: "update alert", err: c.UpdateAlert(context.Background(), alertID, model.AlertStatusDone)}
	}
}
