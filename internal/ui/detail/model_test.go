package detail

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/eventdesk/internal/keys"
	"github.com/nhle/eventdesk/internal/ui/notiflist"
	"github.com/nhle/eventdesk/tests/testutil"
)

func TestDetailRendersNotification(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 100, 30)
	n := testutil.Notification("n1", 0)
	n.Category = "reservation"
	n.Metadata = map[string]any{"room": "Hall B"}
	m.SetNotification(&n)

	view := m.View()
	assert.Contains(t, view, "Title n1")
	assert.Contains(t, view, "Message n1")
	assert.Contains(t, view, "reservation")
	assert.Contains(t, view, "Hall B")
	assert.Equal(t, "n1", m.ID())
}

func TestDetailPlaceholderWhenGone(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 20)
	m.SetNotification(nil)
	assert.Contains(t, m.View(), "no longer available")
	assert.Empty(t, m.ID())
}

func TestDetailKeys(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 20)
	n := testutil.Notification("n1", 0)
	m.SetNotification(&n)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	assert.Equal(t, BackMsg{}, cmd())

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	require.NotNil(t, cmd)
	assert.Equal(t, notiflist.ActionMsg{Action: notiflist.ActionDelete, ID: "n1"}, cmd())
}

func TestRefreshIgnoresOtherNotifications(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 20)
	a := testutil.Notification("a", 0)
	m.SetNotification(&a)

	b := testutil.Notification("b", 1)
	m.Refresh(&b)
	assert.Equal(t, "a", m.ID())

	a.Read = true
	m.Refresh(&a)
	assert.Contains(t, m.View(), "read")
}
