package notiflist

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/eventdesk/internal/model"
	"github.com/nhle/eventdesk/internal/theme"
)

// now is the reference time for relative timestamps.
var now = time.Now

// Item wraps a model.Notification so it can be used in a bubbles/list.
type Item struct {
	Notification model.Notification
}

// FilterValue returns the string used for fuzzy filtering.
func (i Item) FilterValue() string { return i.Notification.Title }

// Title returns the notification title for the list.
func (i Item) Title() string { return i.Notification.Title }

// Description returns a short summary line for the list.
func (i Item) Description() string {
	n := i.Notification
	parts := []string{string(n.Type), string(n.Priority)}
	if n.Category != "" {
		parts = append(parts, n.Category)
	}
	parts = append(parts, RelativeTime(n.Timestamp))
	return strings.Join(parts, " | ")
}

// ItemDelegate implements list.ItemDelegate for rendering notifications
// on a single line.
type ItemDelegate struct{}

// Height returns the number of lines each item takes.
func (d ItemDelegate) Height() int { return 1 }

// Spacing returns the number of blank lines between items.
func (d ItemDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused for now).
func (d ItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single list item line.
func (d ItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(Item)
	if !ok {
		return
	}
	n := it.Notification
	isSelected := index == m.Index()

	marker := " "
	if !n.Read {
		marker = lipgloss.NewStyle().Foreground(theme.ColorBlue).Render("●")
	}

	typeBadge := theme.TypeStyle(string(n.Type)).Render(typeLabel(n.Type))
	priBadge := theme.PriorityStyle(string(n.Priority)).Render(PriorityLabel(n.Priority))

	category := ""
	if n.Category != "" {
		category = lipgloss.NewStyle().
			Foreground(theme.ColorMagenta).
			Render(" #" + n.Category)
	}

	timeStr := lipgloss.NewStyle().
		Foreground(theme.ColorGray).
		Render(RelativeTime(n.Timestamp))

	line := fmt.Sprintf("%s %s %s %s%s  %s", marker, typeBadge, priBadge, n.Title, category, timeStr)

	if n.Read && !isSelected {
		line = theme.DimmedStyle.Render(line)
	}

	if isSelected {
		line = theme.SelectedItemStyle.Render(line)
	} else {
		line = theme.ListItemStyle.Render(line)
	}

	fmt.Fprint(w, line)
}

// RelativeTime returns a human-friendly relative time string.
func RelativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := now().Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		mins := int(d.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case d < 24*time.Hour:
		hrs := int(d.Hours())
		if hrs == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hrs)
	case d < 7*24*time.Hour:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	default:
		weeks := int(d.Hours() / 24 / 7)
		if weeks == 1 {
			return "1w ago"
		}
		return fmt.Sprintf("%dw ago", weeks)
	}
}

func typeLabel(t model.NotificationType) string {
	switch t {
	case model.NotificationSuccess:
		return "OK"
	case model.NotificationWarning:
		return "WRN"
	case model.NotificationError:
		return "ERR"
	default:
		return "INF"
	}
}

// PriorityLabel returns a short label for the given priority.
func PriorityLabel(p model.Priority) string {
	switch p {
	case model.PriorityCritical:
		return "P1"
	case model.PriorityHigh:
		return "P2"
	case model.PriorityMedium:
		return "P3"
	case model.PriorityLow:
		return "P4"
	default:
		return "P?"
	}
}
