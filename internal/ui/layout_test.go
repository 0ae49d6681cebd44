package ui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func TestContentHeight(t *testing.T) {
	assert.Equal(t, 22, NewLayout(80, 24).ContentHeight())
	assert.Equal(t, 0, NewLayout(80, 1).ContentHeight())
}

func TestHeaderSpansWidth(t *testing.T) {
	l := NewLayout(80, 24)
	h := l.RenderHeader(Header{Title: "EventDesk", Unread: 3, User: "Demo", Connection: "polling", State: "polling"})
	assert.Equal(t, 80, lipgloss.Width(h))
	assert.Contains(t, h, "EventDesk")
	assert.Contains(t, h, "3")
	assert.Contains(t, h, "Demo")
}

func TestStatusBarMessage(t *testing.T) {
	l := NewLayout(60, 24)
	bar := l.RenderStatusBar("q quit", "saved")
	assert.Equal(t, 60, lipgloss.Width(bar))
	assert.True(t, strings.Index(bar, "q quit") < strings.Index(bar, "saved"))
}

func TestBadge(t *testing.T) {
	assert.Equal(t, "7", badge(7))
	assert.Equal(t, "99+", badge(120))
}
