package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/chatsync/internal/theme"
)

// Layout manages the console's terminal layout dimensions.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	NoticeHeight    int
	InputHeight     int
	StatusBarHeight int
}

// NewLayout creates a Layout with the given terminal dimensions. The
// header, notice line and status bar take one row each; the input box
// takes three.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		NoticeHeight:    1,
		InputHeight:     3,
		StatusBarHeight: 1,
	}
}

// ContentWidth returns the full available width.
func (l Layout) ContentWidth() int {
	return l.Width
}

// ContentHeight returns the height left for the transcript and alert
// panel. It never goes below one row.
func (l Layout) ContentHeight() int {
	h := l.Height - l.HeaderHeight - l.NoticeHeight - l.InputHeight - l.StatusBarHeight
	if h < 1 {
		return 1
	}
	return h
}

// RenderHeader renders the top header bar with a title on the left and the
// session status on the right.
func (l Layout) RenderHeader(title string, status string) string {
	titleRendered := theme.HeaderStyle.Render(title)

	statusRendered := theme.HeaderStyle.
		Align(lipgloss.Right).
		Render(status)

	gap := l.Width -
		lipgloss.Width(titleRendered) -
		lipgloss.Width(statusRendered)
	if gap < 0 {
		gap = 0
	}

	filler := theme.HeaderStyle.Render(
		lipgloss.NewStyle().
			Width(gap).
			Background(theme.HeaderStyle.GetBackground()).
			Render(""),
	)

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		titleRendered,
		filler,
		statusRendered,
	)
}

// RenderStatusBar renders the bottom status bar with keyboard hints.
func (l Layout) RenderStatusBar(hints string) string {
	rendered := theme.StatusBarStyle.Render(hints)

	gap := l.Width - lipgloss.Width(rendered)
	if gap < 0 {
		gap = 0
	}

	filler := theme.StatusBarStyle.Render(
		lipgloss.NewStyle().
			Width(gap).
			Background(theme.StatusBarStyle.GetBackground()).
			Render(""),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, rendered, filler)
}

// RenderNotice renders the single notice line, or an empty row.
func (l Layout) RenderNotice(text string, style lipgloss.Style) string {
	if text == "" {
		return ""
	}
	return style.MaxWidth(l.Width).Render(text)
}

// RenderWithFrame composes a full terminal view by vertically joining
// the header, notice line, content area, input box and status bar.
func (l Layout) RenderWithFrame(
	header string,
	notice string,
	content string,
	input string,
	statusBar string,
) string {
	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		notice,
		content,
		input,
		statusBar,
	)
}
