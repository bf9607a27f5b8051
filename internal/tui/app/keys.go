package app

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all keyboard bindings for the monitor.
type KeyMap struct {
	Front  key.Binding
	Driver key.Binding
	Log    key.Binding
	Up     key.Binding
	Down   key.Binding
	Quit   key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Front: key.NewBinding(
			key.WithKeys("f"),
			key.WithHelp("f", "request front frame"),
		),
		Driver: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "request driver frame"),
		),
		Log: key.NewBinding(
			key.WithKeys("l"),
			key.WithHelp("l", "event log"),
		),
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "scroll up"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "scroll down"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// Help is the one-line key legend shown under the channel table.
func (k KeyMap) Help() string {
	out := ""
	for i, b := range []key.Binding{k.Front, k.Driver, k.Log, k.Quit} {
		if i > 0 {
			out += "  "
		}
		h := b.Help()
		out += h.Key + ":" + h.Desc
	}
	return out
}
