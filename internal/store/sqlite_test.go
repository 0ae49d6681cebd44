package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/eventdesk/internal/model"
	"github.com/nhle/eventdesk/internal/store"
	"github.com/nhle/eventdesk/tests/testutil"
)

func TestSaveAndLoadNotifications(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	a := testutil.Notification("a", 1)
	b := testutil.Notification("b", 2)
	b.Type = model.NotificationWarning
	b.Priority = model.PriorityHigh
	b.Category = "reservation"
	b.Metadata = map[string]any{"event_id": "42"}

	require.NoError(t, s.SaveNotifications(ctx, []model.Notification{a, b}))

	got, err := s.LoadNotifications(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, model.NotificationWarning, got[0].Type)
	assert.Equal(t, model.PriorityHigh, got[0].Priority)
	assert.Equal(t, "reservation", got[0].Category)
	assert.Equal(t, map[string]any{"event_id": "42"}, got[0].Metadata)
	assert.True(t, b.Timestamp.Equal(got[0].Timestamp))

	assert.Equal(t, "a", got[1].ID)
	assert.Nil(t, got[1].Metadata)

	limited, err := s.LoadNotifications(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "b", limited[0].ID)
}

func TestSaveNotificationsKeepsReadFlag(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	n := testutil.Notification("a", 1)
	require.NoError(t, s.SaveNotifications(ctx, []model.Notification{n}))
	require.NoError(t, s.MarkNotificationRead(ctx, "a"))

	n.Title = "Updated"
	n.Read = false
	require.NoError(t, s.SaveNotifications(ctx, []model.Notification{n}))

	got, err := s.LoadNotifications(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Updated", got[0].Title)
	assert.True(t, got[0].Read)
}

func TestMarkAllDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	require.NoError(t, s.SaveNotifications(ctx, []model.Notification{
		testutil.Notification("a", 1),
		testutil.Notification("b", 2),
		testutil.Notification("c", 3),
	}))

	require.NoError(t, s.MarkAllNotificationsRead(ctx))
	got, err := s.LoadNotifications(ctx, 0)
	require.NoError(t, err)
	for _, n := range got {
		assert.True(t, n.Read, n.ID)
	}

	require.NoError(t, s.DeleteNotification(ctx, "b"))
	require.NoError(t, s.DeleteNotification(ctx, "missing"))
	got, err = s.LoadNotifications(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	require.NoError(t, s.ClearNotifications(ctx))
	got, err = s.LoadNotifications(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPushSubscriptionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	sub, err := s.GetPushSubscription(ctx)
	require.NoError(t, err)
	assert.Nil(t, sub)

	first := model.PushSubscription{
		DeviceID:  "dev-1",
		Endpoint:  "ws://relay/push/dev-1",
		P256dh:    "key",
		Auth:      "secret",
		CreatedAt: testutil.Epoch,
	}
	require.NoError(t, s.SavePushSubscription(ctx, first))

	second := first
	second.DeviceID = "dev-2"
	second.Endpoint = "ws://relay/push/dev-2"
	require.NoError(t, s.SavePushSubscription(ctx, second))

	sub, err = s.GetPushSubscription(ctx)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "dev-2", sub.DeviceID)
	assert.Equal(t, "ws://relay/push/dev-2", sub.Endpoint)
	assert.True(t, testutil.Epoch.Equal(sub.CreatedAt))

	require.NoError(t, s.DeletePushSubscription(ctx))
	sub, err = s.GetPushSubscription(ctx)
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestSavePushSubscriptionRequiresEndpoint(t *testing.T) {
	s := testutil.NewTestStore(t)
	err := s.SavePushSubscription(context.Background(), model.PushSubscription{DeviceID: "dev"})
	assert.Error(t, err)
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	_, ok, err := s.GetSetting(ctx, "push.permission")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetSetting(ctx, "push.permission", "granted"))
	require.NoError(t, s.SetSetting(ctx, "push.permission", "denied"))

	v, ok, err := s.GetSetting(ctx, "push.permission")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "denied", v)

	require.NoError(t, s.DeleteSetting(ctx, "push.permission"))
	_, ok, err = s.GetSetting(ctx, "push.permission")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventdesk.db")

	s, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveNotifications(context.Background(), []model.Notification{
		{ID: "a", Type: model.NotificationInfo, Priority: model.PriorityLow, Timestamp: time.Now()},
	}))
	require.NoError(t, s.Close())

	s, err = store.NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.LoadNotifications(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
