package command

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/eventdesk/internal/theme"
)

// Names lists the palette commands, offered as completions.
var Names = []string{
	"refresh",
	"reconnect",
	"clear filters",
	"settings",
	"push enable",
	"push disable",
	"push status",
	"push test",
	"logout",
	"quit",
}

var descriptions = map[string]string{
	"refresh":       "check for notifications now",
	"reconnect":     "reset backoff and resume polling",
	"clear filters": "show every notification",
	"settings":      "edit polling and connection settings",
	"push enable":   "set up push for this device",
	"push disable":  "stop push for this device",
	"push status":   "show the push set-up state",
	"push test":     "add a local test notification",
	"logout":        "sign out and clear the inbox",
	"quit":          "leave eventdesk",
}

// Describe returns a one-line description of a palette command.
func Describe(name string) string {
	return descriptions[name]
}

// CommandMsg is emitted when the user executes a command.
type CommandMsg struct {
	Name string
	Args []string
}

// Parse splits a palette line into a lower-cased command name and its
// arguments. "push enable" becomes {push [enable]}.
func Parse(line string) CommandMsg {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return CommandMsg{}
	}
	return CommandMsg{Name: fields[0], Args: fields[1:]}
}

// Arg returns the i-th argument or "".
func (c CommandMsg) Arg(i int) string {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return ""
}

// String joins the command back into a line.
func (c CommandMsg) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Model is the command palette view.
type Model struct {
	input  textinput.Model
	width  int
	height int
}

// New creates a new command palette model.
func New(width, height int) Model {
	ti := textinput.New()
	ti.Placeholder = "refresh, push enable, logout..."
	ti.Prompt = ": "
	ti.ShowSuggestions = true
	ti.SetSuggestions(Names)
	ti.Focus()
	ti.Width = width - 6

	return Model{
		input:  ti,
		width:  width,
		height: height,
	}
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages for the command palette.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "enter" {
		parsed := Parse(m.input.Value())
		m.input.Reset()
		if parsed.Name == "" {
			return m, nil
		}
		return m, func() tea.Msg { return parsed }
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the command palette.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	hint := lipgloss.NewStyle().
		Foreground(theme.ColorGray).
		Render("tab completes, esc closes")

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Command Palette"),
		m.input.View(),
		hint,
	)

	return theme.DetailPanelStyle.
		Width(m.width - 4).
		Render(content)
}

// SetSize updates the command palette dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.input.Width = width - 6
}

// Focus gives keyboard focus to the text input.
func (m *Model) Focus() tea.Cmd {
	return m.input.Focus()
}
