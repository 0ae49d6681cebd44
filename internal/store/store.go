package store

import (
	"context"

	"github.com/nhle/eventdesk/internal/model"
)

// Store defines the persistence interface for the notification inbox,
// the device push subscription, and small key/value settings.
type Store interface {
	// === Notifications ===

	SaveNotifications(ctx context.Context, ns []model.Notification) error
	LoadNotifications(ctx context.Context, limit int) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) error
	DeleteNotification(ctx context.Context, id string) error
	ClearNotifications(ctx context.Context) error

	// === Push subscription ===

	SavePushSubscription(ctx context.Context, sub model.PushSubscription) error
	GetPushSubscription(ctx context.Context) (*model.PushSubscription, error)
	DeletePushSubscription(ctx context.Context) error

	// === Settings ===

	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	DeleteSetting(ctx context.Context, key string) error

	Close() error
}
