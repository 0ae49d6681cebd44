package notiflist

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/eventdesk/internal/inbox"
	"github.com/nhle/eventdesk/internal/keys"
	"github.com/nhle/eventdesk/internal/model"
	"github.com/nhle/eventdesk/internal/theme"
)

// Action names a mutation the list asks the parent to perform.
type Action string

const (
	ActionMarkRead    Action = "mark-read"
	ActionMarkAllRead Action = "mark-all-read"
	ActionDelete      Action = "delete"
	ActionClearAll    Action = "clear-all"
)

// ActionMsg is sent when the user triggers a mutation. ID is empty for
// the bulk actions.
type ActionMsg struct {
	Action Action
	ID     string
}

// SelectedMsg is sent when a user selects a notification to view.
type SelectedMsg struct {
	ID string
}

// Model is the notification list view component.
type Model struct {
	list        list.Model
	inbox       *inbox.Store
	keys        *keys.KeyMap
	searchMode  bool
	searchInput textinput.Model
	width       int
	height      int
}

// New creates a new notification list model.
func New(store *inbox.Store, k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, ItemDelegate{}, width, height-2)
	l.Title = "Notifications"
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = theme.HeaderStyle

	si := textinput.New()
	si.Placeholder = "search notifications..."
	si.Prompt = "/ "
	si.Width = width - 4

	m := Model{
		list:        l,
		inbox:       store,
		keys:        k,
		searchInput: si,
		width:       width,
		height:      height,
	}
	m.Reload()
	return m
}

// Reload rebuilds the list from the inbox's filtered view, keeping the
// cursor on the same notification when it is still visible.
func (m *Model) Reload() tea.Cmd {
	selected := m.SelectedID()

	ns := m.inbox.Filtered()
	items := make([]list.Item, len(ns))
	cursor := 0
	for i, n := range ns {
		items[i] = Item{Notification: n}
		if n.ID == selected {
			cursor = i
		}
	}
	m.list.Title = fmt.Sprintf("Notifications (%d unread)", m.inbox.UnreadCount())
	cmd := m.list.SetItems(items)
	if len(items) > 0 {
		m.list.Select(cursor)
	}
	return cmd
}

// SelectedID returns the ID under the cursor, or "".
func (m Model) SelectedID() string {
	it, ok := m.list.SelectedItem().(Item)
	if !ok {
		return ""
	}
	return it.Notification.ID
}

// Len returns the number of visible notifications.
func (m Model) Len() int { return len(m.list.Items()) }

// Searching reports whether the search input has focus.
func (m Model) Searching() bool { return m.searchMode }

// Update handles messages for the list view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		if m.searchMode {
			return m.handleSearchKeys(msg)
		}
		return m.handleNormalKeys(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// handleSearchKeys processes key input while in search mode. The query
// is applied on every keystroke.
func (m Model) handleSearchKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.searchMode = false
		m.searchInput.Blur()
		return m, nil

	case "esc":
		m.searchMode = false
		m.searchInput.Reset()
		m.searchInput.Blur()
		m.updateFilter(func(f *model.NotificationFilter) { f.SearchQuery = "" })
		return m, m.Reload()
	}

	var cmd tea.Cmd
	m.searchInput, cmd = m.searchInput.Update(msg)
	query := m.searchInput.Value()
	m.updateFilter(func(f *model.NotificationFilter) { f.SearchQuery = query })
	return m, tea.Batch(cmd, m.Reload())
}

// handleNormalKeys processes key input in normal (non-search) mode.
func (m Model) handleNormalKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Select):
		id := m.SelectedID()
		if id == "" {
			return m, nil
		}
		return m, func() tea.Msg { return SelectedMsg{ID: id} }

	case key.Matches(msg, m.keys.Search):
		m.searchMode = true
		m.searchInput.SetValue(m.inbox.Filters().SearchQuery)
		return m, m.searchInput.Focus()

	case key.Matches(msg, m.keys.CycleType):
		m.updateFilter(func(f *model.NotificationFilter) { f.Type = nextType(f.Type) })
		return m, m.Reload()

	case key.Matches(msg, m.keys.CyclePriority):
		m.updateFilter(func(f *model.NotificationFilter) { f.Priority = nextPriority(f.Priority) })
		return m, m.Reload()

	case key.Matches(msg, m.keys.UnreadOnly):
		m.updateFilter(func(f *model.NotificationFilter) { f.UnreadOnly = !f.UnreadOnly })
		return m, m.Reload()

	case key.Matches(msg, m.keys.ClearFilters):
		m.searchInput.Reset()
		m.inbox.SetFilters(model.NotificationFilter{})
		return m, m.Reload()

	case key.Matches(msg, m.keys.MarkRead):
		return m, m.action(ActionMarkRead, m.SelectedID())

	case key.Matches(msg, m.keys.MarkAllRead):
		return m, m.action(ActionMarkAllRead, "")

	case key.Matches(msg, m.keys.Delete):
		return m, m.action(ActionDelete, m.SelectedID())

	case key.Matches(msg, m.keys.ClearAll):
		return m, m.action(ActionClearAll, "")
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) action(a Action, id string) tea.Cmd {
	if id == "" && (a == ActionMarkRead || a == ActionDelete) {
		return nil
	}
	return func() tea.Msg { return ActionMsg{Action: a, ID: id} }
}

func (m *Model) updateFilter(fn func(*model.NotificationFilter)) {
	f := m.inbox.Filters()
	fn(&f)
	m.inbox.SetFilters(f)
}

// nextType cycles "" -> info -> success -> warning -> error -> "".
func nextType(t model.NotificationType) model.NotificationType {
	if t == "" {
		return model.NotificationTypes[0]
	}
	for i, known := range model.NotificationTypes {
		if known == t && i+1 < len(model.NotificationTypes) {
			return model.NotificationTypes[i+1]
		}
	}
	return ""
}

// nextPriority cycles "" through the priorities from highest to lowest.
func nextPriority(p model.Priority) model.Priority {
	order := make([]model.Priority, len(model.Priorities))
	for i, pr := range model.Priorities {
		order[len(order)-1-i] = pr
	}
	if p == "" {
		return order[0]
	}
	for i, known := range order {
		if known == p && i+1 < len(order) {
			return order[i+1]
		}
	}
	return ""
}

// FilterSummary describes the active filters, or "" when none are set.
func FilterSummary(f model.NotificationFilter) string {
	var parts []string
	if f.Type != "" {
		parts = append(parts, "type:"+string(f.Type))
	}
	if f.Priority != "" {
		parts = append(parts, "priority:"+string(f.Priority))
	}
	if f.UnreadOnly {
		parts = append(parts, "unread")
	}
	if q := strings.TrimSpace(f.SearchQuery); q != "" {
		parts = append(parts, fmt.Sprintf("%q", q))
	}
	return strings.Join(parts, " ")
}

// View renders the list view.
func (m Model) View() string {
	var top string
	switch {
	case m.searchMode:
		top = lipgloss.NewStyle().
			Foreground(theme.ColorWhite).
			Padding(0, 1).
			Render(m.searchInput.View())
	default:
		if s := FilterSummary(m.inbox.Filters()); s != "" {
			top = lipgloss.NewStyle().
				Foreground(theme.ColorYellow).
				Padding(0, 1).
				Render("filter: " + s)
		}
	}

	body := m.list.View()
	if len(m.list.Items()) == 0 {
		body = m.renderEmptyState()
	}
	if top == "" {
		return body
	}
	return lipgloss.JoinVertical(lipgloss.Left, top, body)
}

// renderEmptyState shows guidance text when nothing is visible.
func (m Model) renderEmptyState() string {
	style := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height-1).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	if !m.inbox.Filters().IsZero() {
		return style.Render("No matching notifications.\nPress 0 to clear filters.")
	}
	return style.Render("You're all caught up.\n\nPress r to check for new notifications.")
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height-2)
	m.searchInput.Width = width - 4
}
