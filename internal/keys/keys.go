package keys

import "github.com/charmbracelet/bubbles/key"

// KeyMap holds the inbox keybindings. The list, detail and help views
// share one instance.
type KeyMap struct {
	Up      key.Binding
	Down    key.Binding
	Select  key.Binding
	Back    key.Binding
	Quit    key.Binding
	Search  key.Binding
	Command key.Binding
	Help    key.Binding
	Refresh key.Binding

	CycleType     key.Binding
	CyclePriority key.Binding
	UnreadOnly    key.Binding
	ClearFilters  key.Binding

	MarkRead    key.Binding
	MarkAllRead key.Binding
	Delete      key.Binding
	ClearAll    key.Binding
}

func bind(help, desc string, keys ...string) key.Binding {
	return key.NewBinding(key.WithKeys(keys...), key.WithHelp(help, desc))
}

// DefaultKeyMap returns the default bindings.
func DefaultKeyMap() *KeyMap {
	return &KeyMap{
		Up:      bind("k/↑", "up", "k", "up"),
		Down:    bind("j/↓", "down", "j", "down"),
		Select:  bind("enter", "open", "enter"),
		Back:    bind("esc", "back", "esc"),
		Quit:    bind("q", "quit", "q"),
		Search:  bind("/", "search", "/"),
		Command: bind(":", "command", ":"),
		Help:    bind("?", "help", "?"),
		Refresh: bind("r", "check now", "r"),

		CycleType:     bind("t", "type filter", "t"),
		CyclePriority: bind("p", "priority filter", "p"),
		UnreadOnly:    bind("u", "unread only", "u"),
		ClearFilters:  bind("0", "clear filters", "0"),

		MarkRead:    bind("m", "mark read", "m"),
		MarkAllRead: bind("M", "mark all read", "M"),
		Delete:      bind("d", "delete", "d", "delete"),
		ClearAll:    bind("D", "clear all", "D"),
	}
}

// ShortHelp is shown in the status bar.
func (k *KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Select, k.MarkRead, k.Refresh, k.Search, k.Help, k.Quit}
}

// FullHelp groups every binding for the help view.
func (k *KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Select, k.Back, k.Quit},
		{k.Search, k.Command, k.Help, k.Refresh},
		{k.CycleType, k.CyclePriority, k.UnreadOnly, k.ClearFilters},
		{k.MarkRead, k.MarkAllRead, k.Delete, k.ClearAll},
	}
}
