package testutil

import (
	"testing"
	"time"

	"github.com/nhle/eventdesk/internal/model"
	"github.com/nhle/eventdesk/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// Epoch is the fixed reference time used by fixtures.
var Epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// Notification returns an unread info notification created minute
// minutes after Epoch.
func Notification(id string, minute int) model.Notification {
	return model.Notification{
		ID:        id,
		Type:      model.NotificationInfo,
		Priority:  model.PriorityMedium,
		Title:     "Title " + id,
		Message:   "Message " + id,
		Timestamp: Epoch.Add(time.Duration(minute) * time.Minute),
	}
}
