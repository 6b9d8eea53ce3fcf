package app

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/chatsync/internal/api"
	"github.com/nhle/chatsync/internal/model"
	"github.com/nhle/chatsync/internal/notify"
	"github.com/nhle/chatsync/internal/session"
	"github.com/nhle/chatsync/internal/ui"
	helpview "github.com/nhle/chatsync/internal/ui/help"
)

// Model is the root Bubble Tea model of the chat console. It renders the
// controller's snapshot and forwards user intents to it; it holds no
// session state of its own.
type Model struct {
	ctrl    *session.Controller
	notices *notify.Dispatcher
	keys    *KeyMap

	events  <-chan session.Event
	changes <-chan notify.Change

	layout   ui.Layout
	input    textarea.Model
	viewport viewport.Model
	helpView helpview.Model
	showHelp bool

	snap   session.Snapshot
	notice *model.Notification
	ready  bool
}

// New creates the console model. The controller and dispatcher are owned
// by the caller, which closes them after the program exits.
func New(ctrl *session.Controller, notices *notify.Dispatcher) Model {
	ta := textarea.New()
	ta.Placeholder = "Say something..."
	ta.Prompt = "> "
	ta.ShowLineNumbers = false
	ta.SetHeight(1)
	ta.CharLimit = api.MaxMessageLength

	vp := viewport.New(80, 20)
	vp.Style = lipgloss.NewStyle()

	k := DefaultKeyMap()
	return Model{
		ctrl:     ctrl,
		notices:  notices,
		keys:     k,
		helpView: helpview.New(k, 80, 24),
		events:   ctrl.Subscribe(),
		changes:  notices.Subscribe(),
		layout:   ui.NewLayout(80, 24),
		input:    ta,
		viewport: vp,
		snap:     ctrl.Snapshot(),
	}
}

// Init loads personas, restores a persisted session and starts listening
// for controller and notice events.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		session.WaitForEvent(m.events),
		waitForNotice(m.changes),
		m.loadPersonas(),
		m.restore(),
	)
}

// Update handles messages and dispatches user intents to the controller.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		m.input.SetWidth(msg.Width - 4)
		m.viewport.Width = msg.Width
		m.viewport.Height = m.layout.ContentHeight()
		m.helpView.SetSize(msg.Width, m.layout.ContentHeight())
		m.refreshTranscript()
		return m, nil

	case session.EventMsg:
		m.snap = m.ctrl.Snapshot()
		m.syncFocus()
		m.refreshTranscript()
		return m, session.WaitForEvent(m.events)

	case session.ClosedMsg:
		return m, nil

	case noticeMsg:
		if msg.change.Visible {
			n := msg.change.Notice
			m.notice = &n
		} else {
			m.notice = nil
		}
		return m, waitForNotice(m.changes)

	case noticesClosedMsg:
		m.notice = nil
		return m, nil

	case opDoneMsg:
		// Failures are already surfaced as notices by the controller.
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		return m, nil

	case key.Matches(msg, m.keys.Dismiss):
		if m.showHelp {
			m.showHelp = false
			return m, nil
		}
		m.notices.Dismiss()
		return m, nil

	case key.Matches(msg, m.keys.EndSession):
		return m, m.endSession()

	case key.Matches(msg, m.keys.RefreshAlerts):
		m.ctrl.PollAlertsNow()
		return m, m.refreshAlerts()

	case key.Matches(msg, m.keys.AlertDone):
		if len(m.snap.Alerts) == 0 {
			return m, nil
		}
		return m, m.markDone(m.snap.Alerts[0].ID)
	}

	if m.snap.State == session.StateIdle {
		if key.Matches(msg, m.keys.PickPersona) {
			idx := int(msg.String()[0] - '1')
			if idx < len(m.snap.Personas) {
				return m, m.startSession(m.snap.Personas[idx].ID)
			}
		}
		return m, nil
	}

	if key.Matches(msg, m.keys.Send) {
		text := m.input.Value()
		if text == "" || m.snap.Sending {
			return m, nil
		}
		m.input.Reset()
		return m, m.send(text)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// syncFocus focuses the input only while a session is active.
func (m *Model) syncFocus() {
	if m.snap.State == session.StateActive {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
}

func (m *Model) refreshTranscript() {
	m.viewport.SetContent(renderContent(m.snap, m.viewport.Width))
	m.viewport.GotoBottom()
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.layout.RenderHeader("chatsync", statusLine(m.snap))
	notice := ""
	if m.notice != nil {
		notice = m.layout.RenderNotice(m.notice.Message, noticeStyle(m.notice.Severity))
	}
	input := ""
	if m.snap.State == session.StateActive {
		input = m.input.View()
	}
	statusBar := m.layout.RenderStatusBar(keyHints(m.snap.State))

	content := m.viewport.View()
	if m.showHelp {
		content = m.helpView.View()
	}
	return m.layout.RenderWithFrame(header, notice, content, input, statusBar)
}
