package ui

import (
	"strconv"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/eventdesk/internal/theme"
)

// Layout manages the terminal layout dimensions.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	StatusBarHeight int
}

// NewLayout creates a Layout with the given terminal dimensions.
// HeaderHeight and StatusBarHeight default to 1.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		StatusBarHeight: 1,
	}
}

// ContentWidth returns the full available width.
func (l Layout) ContentWidth() int {
	return l.Width
}

// ContentHeight returns the height available for the main content area,
// accounting for the header and status bar.
func (l Layout) ContentHeight() int {
	return max(l.Height-l.HeaderHeight-l.StatusBarHeight, 0)
}

// Header is the content of the top bar.
type Header struct {
	Title      string
	Unread     int
	User       string
	Connection string // label
	State      string // theme.ConnectionStyle key
}

// RenderHeader renders the top bar: title and unread badge on the left,
// signed-in user and connection state on the right.
func (l Layout) RenderHeader(h Header) string {
	bg := theme.HeaderStyle.GetBackground()

	left := theme.HeaderStyle.Render(h.Title)
	if h.Unread > 0 {
		left = lipgloss.JoinHorizontal(lipgloss.Top, left,
			theme.UnreadBadgeStyle.Render(badge(h.Unread)))
	}

	conn := theme.ConnectionStyle(h.State).
		Background(bg).
		Padding(0, 1).
		Render(h.Connection)
	right := conn
	if h.User != "" {
		right = lipgloss.JoinHorizontal(lipgloss.Top, theme.HeaderStyle.Render(h.User), conn)
	}

	return l.fill(left, right, theme.HeaderStyle)
}

// RenderStatusBar renders the bottom bar with keyboard hints on the left
// and an optional message on the right.
func (l Layout) RenderStatusBar(hints, message string) string {
	left := theme.StatusBarStyle.Render(hints)
	right := ""
	if message != "" {
		right = theme.StatusBarStyle.Bold(true).Render(message)
	}
	return l.fill(left, right, theme.StatusBarStyle)
}

// fill joins left and right with a background-coloured gap so the bar
// spans the full width.
func (l Layout) fill(left, right string, style lipgloss.Style) string {
	gap := l.Width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}

	filler := lipgloss.NewStyle().
		Width(gap).
		Background(style.GetBackground()).
		Render("")

	return lipgloss.JoinHorizontal(lipgloss.Top, left, filler, right)
}

// RenderWithFrame composes a full terminal view by vertically joining
// the header, content area, and status bar.
func (l Layout) RenderWithFrame(header, content, statusBar string) string {
	content = lipgloss.NewStyle().
		Height(l.ContentHeight()).
		MaxHeight(l.ContentHeight()).
		Render(content)

	return lipgloss.JoinVertical(lipgloss.Left, header, content, statusBar)
}

func badge(n int) string {
	if n > 99 {
		return "99+"
	}
	return strconv.Itoa(n)
}
