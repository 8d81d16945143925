package tui

import (
	"github.com/charmbracelet/bubbles/key"
)

type chatKeyMap struct {
	Send,
	Finalize,
	Retry,
	NewCase,
	Specialty,
	Copy,
	Scroll,
	Cases,
	Help,
	Quit key.Binding
}

// ShortHelp implements help.KeyMap.
func (k chatKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Send, k.Finalize, k.NewCase, k.Specialty, k.Cases, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k chatKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Send, k.Finalize, k.Retry},
		{k.NewCase, k.Specialty, k.Copy},
		{k.Scroll, k.Cases, k.Help, k.Quit},
	}
}

func defaultChatKeys() chatKeyMap {
	return chatKeyMap{
		Send: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "send"),
		),
		Finalize: key.NewBinding(
			key.WithKeys("ctrl+f"),
			key.WithHelp("ctrl+f", "finalize"),
		),
		Retry: key.NewBinding(
			key.WithKeys("ctrl+r"),
			key.WithHelp("ctrl+r", "retry"),
		),
		NewCase: key.NewBinding(
			key.WithKeys("ctrl+n"),
			key.WithHelp("ctrl+n", "new case"),
		),
		Specialty: key.NewBinding(
			key.WithKeys("ctrl+s"),
			key.WithHelp("ctrl+s", "specialty"),
		),
		Copy: key.NewBinding(
			key.WithKeys("ctrl+y"),
			key.WithHelp("y/ctrl+y", "copy write-up"),
		),
		Scroll: key.NewBinding(
			key.WithKeys("pgup", "pgdown", "up", "down"),
			key.WithHelp("↓↑", "scroll"),
		),
		Cases: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "cases"),
		),
		Help: key.NewBinding(
			key.WithKeys("f1"),
			key.WithHelp("f1", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "quit"),
		),
	}
}

// closedCaseKeys is the footer once a write-up is on screen
func (k chatKeyMap) closedCaseKeys() []key.Binding {
	return []key.Binding{k.Copy, k.NewCase, k.Specialty, k.Cases, k.Quit}
}
