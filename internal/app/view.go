package app

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/chatsync/internal/model"
	"github.com/nhle/chatsync/internal/session"
	"github.com/nhle/chatsync/internal/theme"
)

func noticeStyle(s model.Severity) lipgloss.Style {
	return theme.NoticeStyle(s)
}

// statusLine describes the session for the header.
func statusLine(snap session.Snapshot) string {
	switch snap.State {
	case session.StateActive:
		name := snap.PersonaID()
		for _, p := range snap.Personas {
			if p.ID == name {
				name = p.Name
				break
			}
		}
		s := fmt.Sprintf("%s | %s", name, snap.SessionID())
		if snap.Sending {
			s += " | sending..."
		}
		return s
	default:
		return snap.State.String()
	}
}

// keyHints returns keyboard shortcut hints for the status bar.
func keyHints(state session.State) string {
	switch state {
	case session.StateIdle:
		return "1-9 pick persona | f1 help | ctrl+c quit"
	case session.StateActive:
		return "enter send | ctrl+e end | ctrl+r alerts | ctrl+d done | f1 help | ctrl+c quit"
	default:
		return "please wait..."
	}
}

// renderContent renders the transcript, or the persona menu while idle.
func renderContent(snap session.Snapshot, width int) string {
	if snap.State != session.StateActive {
		return renderPersonas(snap.Personas)
	}

	var b strings.Builder
	if snap.Session != nil && snap.Session.Summary != nil && snap.Session.Summary.Text != "" {
		b.WriteString(theme.HelpStyle.Render("Summary: " + snap.Session.Summary.Text))
		b.WriteString("\n\n")
	}

	body := lipgloss.NewStyle().Width(max(width-2, 10))
	for _, msg := range snap.Messages {
		label := theme.RoleStyle(msg.Role).Render(string(msg.Role))
		if v, ok := snap.Verdicts[msg.ID]; ok && v.Kind != model.VerdictPass {
			label += theme.VerdictStyle(v.Kind).Render(string(v.Kind))
		}
		content := msg.Content
		if msg.Provisional {
			content = theme.ProvisionalStyle.Render(content)
		}
		b.WriteString(label + "\n")
		b.WriteString(body.Render(content) + "\n\n")
	}

	if len(snap.Alerts) > 0 {
		b.WriteString(theme.HelpStyle.Render("Alerts") + "\n")
		for _, a := range snap.Alerts {
			b.WriteString(renderAlert(a) + "\n")
		}
	}
	return b.String()
}

func renderPersonas(personas []model.Persona) string {
	if len(personas) == 0 {
		return theme.HelpStyle.Render("Loading personas...")
	}

	var b strings.Builder
	b.WriteString("Pick a persona to start a session:\n\n")
	for i, p := range personas {
		if i >= 9 {
			break
		}
		fmt.Fprintf(&b, "  %d. %s", i+1, p.Name)
		if p.Description != "" {
			b.WriteString(theme.HelpStyle.Render("  " + p.Description))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderAlert(a model.Alert) string {
	line := "  " + theme.PriorityStyle(a.EffectivePriority()).Render("•") + " " + a.Content()
	if a.DueAt != nil {
		line += theme.HelpStyle.Render(" (due " + a.DueAt.Local().Format("Jan 2 15:04") + ")")
	}
	return line
}
