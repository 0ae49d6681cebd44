package detail

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/eventdesk/internal/keys"
	"github.com/nhle/eventdesk/internal/model"
	"github.com/nhle/eventdesk/internal/theme"
	"github.com/nhle/eventdesk/internal/ui/notiflist"
)

// BackMsg signals the parent to navigate back to the list view.
type BackMsg struct{}

// Model is the notification detail view component.
type Model struct {
	notification *model.Notification
	viewport     viewport.Model
	keys         *keys.KeyMap
	width        int
	height       int
}

// New creates a new detail view model.
func New(keys *keys.KeyMap, width, height int) Model {
	vp := viewport.New(width, height-2)
	vp.Style = lipgloss.NewStyle()

	return Model{
		viewport: vp,
		keys:     keys,
		width:    width,
		height:   height,
	}
}

// Init returns the initial command for the detail view.
func (m Model) Init() tea.Cmd {
	return nil
}

// ID returns the displayed notification's ID, or "".
func (m Model) ID() string {
	if m.notification == nil {
		return ""
	}
	return m.notification.ID
}

// Update handles messages for the detail view. Delete is re-emitted as a
// notiflist.ActionMsg so the parent handles it in one place.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, m.keys.Back):
			return m, func() tea.Msg { return BackMsg{} }

		case key.Matches(msg, m.keys.Delete):
			if id := m.ID(); id != "" {
				return m, func() tea.Msg {
					return notiflist.ActionMsg{Action: notiflist.ActionDelete, ID: id}
				}
			}
			return m, nil
		}
	}

	// Delegate to viewport for scrolling (j/k, up/down, pgup/pgdn)
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the detail view.
func (m Model) View() string {
	if m.notification == nil {
		return lipgloss.NewStyle().
			Width(m.width).
			Height(m.height).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(theme.ColorGray).
			Render("Notification no longer available")
	}

	return m.viewport.View()
}

// renderContent builds the full detail content string for the viewport.
func (m Model) renderContent() string {
	n := m.notification
	if n == nil {
		return ""
	}

	var sections []string

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)
	sections = append(sections, titleStyle.Render(n.Title))

	typeBadge := theme.TypeStyle(string(n.Type)).Render(strings.ToUpper(string(n.Type)))
	priBadge := theme.PriorityStyle(string(n.Priority)).Render(
		notiflist.PriorityLabel(n.Priority) + " " + string(n.Priority),
	)
	readBadge := theme.UnreadBadgeStyle.Render("UNREAD")
	if n.Read {
		readBadge = theme.DimmedStyle.Render("read")
	}
	sections = append(sections, lipgloss.JoinHorizontal(
		lipgloss.Top, typeBadge, "  ", priBadge, "  ", readBadge,
	))
	sections = append(sections, "")

	metaStyle := lipgloss.NewStyle().Foreground(theme.ColorGray)
	valStyle := lipgloss.NewStyle().Foreground(theme.ColorWhite)
	row := func(label, value string) string {
		return fmt.Sprintf("%s %s", metaStyle.Render(fmt.Sprintf("%-10s", label+":")), valStyle.Render(value))
	}

	if !n.Timestamp.IsZero() {
		sections = append(sections, row("Received",
			n.Timestamp.Local().Format("2006-01-02 15:04")+"  ("+notiflist.RelativeTime(n.Timestamp)+")"))
	}
	if n.Category != "" {
		sections = append(sections, row("Category", n.Category))
	}
	sections = append(sections, row("ID", n.ID))

	if len(n.Metadata) > 0 {
		names := make([]string, 0, len(n.Metadata))
		for k := range n.Metadata {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			sections = append(sections, row(k, fmt.Sprint(n.Metadata[k])))
		}
	}

	sepStyle := lipgloss.NewStyle().Foreground(theme.ColorSubtle)
	separator := sepStyle.Render(strings.Repeat("─", max(min(m.width-4, 80), 0)))
	sections = append(sections, "", separator, "")

	body := n.Message
	if body == "" {
		body = lipgloss.NewStyle().
			Foreground(theme.ColorGray).
			Italic(true).
			Render("No message")
	} else if m.width > 8 {
		body = lipgloss.NewStyle().Width(min(m.width-4, 100)).Render(body)
	}
	sections = append(sections, body)

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// SetNotification updates the notification being displayed. A nil value
// shows the "no longer available" placeholder.
func (m *Model) SetNotification(n *model.Notification) {
	m.notification = n
	m.viewport.SetContent(m.renderContent())
	m.viewport.GotoTop()
}

// Refresh re-renders n in place when it is the displayed notification,
// keeping the scroll position.
func (m *Model) Refresh(n *model.Notification) {
	if n == nil || m.notification == nil || n.ID != m.notification.ID {
		return
	}
	m.notification = n
	m.viewport.SetContent(m.renderContent())
}

// SetSize updates the detail view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = height - 2
	if m.notification != nil {
		m.viewport.SetContent(m.renderContent())
	}
}
