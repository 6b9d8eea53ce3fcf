package keys

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the global keybindings of the chat console.
type KeyMap struct {
	// Session
	Send          key.Binding
	EndSession    key.Binding
	PickPersona   key.Binding
	RefreshAlerts key.Binding
	AlertDone     key.Binding

	// Notices
	Dismiss key.Binding

	Help key.Binding
	Quit key.Binding
}

// DefaultKeyMap returns the default set of keybindings.
func DefaultKeyMap() *KeyMap {
	return &KeyMap{
		Send: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "send"),
		),
		EndSession: key.NewBinding(
			key.WithKeys("ctrl+e"),
			key.WithHelp("ctrl+e", "end session"),
		),
		PickPersona: key.NewBinding(
			key.WithKeys("1", "2", "3", "4", "5", "6", "7", "8", "9"),
			key.WithHelp("1-9", "pick persona"),
		),
		RefreshAlerts: key.NewBinding(
			key.WithKeys("ctrl+r"),
			key.WithHelp("ctrl+r", "refresh alerts"),
		),
		AlertDone: key.NewBinding(
			key.WithKeys("ctrl+d"),
			key.WithHelp("ctrl+d", "mark first alert done"),
		),
		Dismiss: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "dismiss notice"),
		),
		Help: key.NewBinding(
			key.WithKeys("f1"),
			key.WithHelp("f1", "toggle help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "quit"),
		),
	}
}

// ShortHelp returns the bindings shown in the status bar.
func (k *KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Send, k.EndSession, k.RefreshAlerts, k.Help, k.Quit}
}

// FullHelp returns all keybindings grouped by category.
func (k *KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.PickPersona, k.Send, k.EndSession},
		{k.RefreshAlerts, k.AlertDone, k.Dismiss},
		{k.Help, k.Quit},
	}
}
