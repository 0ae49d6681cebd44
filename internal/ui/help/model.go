package help

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/eventdesk/internal/keys"
	"github.com/nhle/eventdesk/internal/theme"
	"github.com/nhle/eventdesk/internal/ui/command"
)

type section struct {
	title    string
	bindings []key.Binding
}

// Model shows the inbox keys grouped by what they act on, followed by
// the palette commands.
type Model struct {
	sections []section
	help     help.Model
	width    int
	height   int
}

// New creates the help view for k.
func New(k *keys.KeyMap, width, height int) Model {
	m := Model{
		sections: []section{
			{"Moving around", []key.Binding{k.Up, k.Down, k.Select, k.Back, k.Quit}},
			{"Finding notifications", []key.Binding{k.Search, k.CycleType, k.CyclePriority, k.UnreadOnly, k.ClearFilters}},
			{"Triage", []key.Binding{k.MarkRead, k.MarkAllRead, k.Delete, k.ClearAll}},
			{"Connection", []key.Binding{k.Refresh, k.Command, k.Help}},
		},
		help: help.New(),
	}
	m.SetSize(width, height)
	return m
}

func (m Model) Init() tea.Cmd {
	return nil
}

// Update is a no-op; the app closes the view.
func (m Model) Update(tea.Msg) (Model, tea.Cmd) {
	return m, nil
}

func (m Model) View() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)
	dim := lipgloss.NewStyle().Foreground(theme.ColorGray)

	var b strings.Builder
	for _, s := range m.sections {
		b.WriteString(title.Render(s.title) + "\n")
		b.WriteString(m.help.ShortHelpView(s.bindings) + "\n\n")
	}

	b.WriteString(title.Render("Commands (press :)") + "\n")
	for _, name := range command.Names {
		b.WriteString(fmt.Sprintf("  %-14s %s\n", name, dim.Render(command.Describe(name))))
	}

	return theme.DetailPanelStyle.
		Width(max(m.width-4, 0)).
		Height(max(m.height-4, 0)).
		Render(strings.TrimRight(b.String(), "\n"))
}

// SetSize updates the view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = max(width-8, 0)
}
