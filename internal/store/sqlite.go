package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/eventdesk/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// One connection: ":memory:" databases are per-connection, and the
	// client is the only writer.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// SaveNotifications inserts or replaces a batch of notifications. A stored
// record that is already read stays read.
func (s *SQLiteStore) SaveNotifications(ctx context.Context, ns []model.Notification) error {
	if len(ns) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO notifications (
			id, type, priority, title, message,
			category, metadata, read, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type       = excluded.type,
			priority   = excluded.priority,
			title      = excluded.title,
			message    = excluded.message,
			category   = excluded.category,
			metadata   = excluded.metadata,
			read       = MAX(notifications.read, excluded.read),
			created_at = excluded.created_at`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	for _, n := range ns {
		meta, err := marshalMetadata(n.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata for notification %s: %w", n.ID, err)
		}

		_, err = stmt.ExecContext(ctx,
			n.ID, string(n.Type), string(n.Priority), n.Title, n.Message,
			n.Category, meta, boolToInt(n.Read), n.Timestamp.UTC(),
		)
		if err != nil {
			return fmt.Errorf("upserting notification %s: %w", n.ID, err)
		}
	}

	return tx.Commit()
}

// LoadNotifications returns stored notifications, newest first. A limit of
// zero or less returns all of them.
func (s *SQLiteStore) LoadNotifications(ctx context.Context, limit int) ([]model.Notification, error) {
	query := `
		SELECT id, type, priority, title, message, category, metadata, read, created_at
		FROM notifications
		ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

// MarkNotificationRead marks a single notification as read.
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET read = 1 WHERE id = ?", id,
	)
	if err != nil {
		return fmt.Errorf("marking notification %s as read: %w", id, err)
	}
	return nil
}

// MarkAllNotificationsRead marks every stored notification as read.
func (s *SQLiteStore) MarkAllNotificationsRead(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE notifications SET read = 1 WHERE read = 0"); err != nil {
		return fmt.Errorf("marking all notifications as read: %w", err)
	}
	return nil
}

// DeleteNotification removes a notification by ID.
func (s *SQLiteStore) DeleteNotification(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM notifications WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting notification %s: %w", id, err)
	}
	return nil
}

// ClearNotifications removes every stored notification.
func (s *SQLiteStore) ClearNotifications(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM notifications"); err != nil {
		return fmt.Errorf("clearing notifications: %w", err)
	}
	return nil
}

// SavePushSubscription stores the device subscription, replacing any
// previous one. The client holds at most one.
func (s *SQLiteStore) SavePushSubscription(ctx context.Context, sub model.PushSubscription) error {
	if sub.DeviceID == "" || sub.Endpoint == "" {
		return fmt.Errorf("push subscription needs a device id and endpoint")
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM push_subscriptions"); err != nil {
		return fmt.Errorf("replacing push subscription: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO push_subscriptions (device_id, endpoint, p256dh, auth, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		sub.DeviceID, sub.Endpoint, sub.P256dh, sub.Auth, sub.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving push subscription: %w", err)
	}

	return tx.Commit()
}

// GetPushSubscription returns the stored subscription, or nil when the
// device is not subscribed.
func (s *SQLiteStore) GetPushSubscription(ctx context.Context) (*model.PushSubscription, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT device_id, endpoint, p256dh, auth, created_at
		FROM push_subscriptions
		LIMIT 1`)

	var sub model.PushSubscription
	err := row.Scan(&sub.DeviceID, &sub.Endpoint, &sub.P256dh, &sub.Auth, &sub.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting push subscription: %w", err)
	}
	return &sub, nil
}

// DeletePushSubscription removes the stored subscription, if any.
func (s *SQLiteStore) DeletePushSubscription(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM push_subscriptions"); err != nil {
		return fmt.Errorf("deleting push subscription: %w", err)
	}
	return nil
}

// GetSetting returns the value stored under key. The boolean is false when
// the key is unset.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, "SELECT value FROM settings WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting stores value under key.
func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

// DeleteSetting removes key. Unknown keys are ignored.
func (s *SQLiteStore) DeleteSetting(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting setting %s: %w", key, err)
	}
	return nil
}

// scanNotification scans a notification row from a sqlx.Rows result set.
func scanNotification(rows *sqlx.Rows) (model.Notification, error) {
	var (
		n         model.Notification
		nType     string
		priority  string
		meta      string
		readInt   int
		createdAt time.Time
	)

	err := rows.Scan(
		&n.ID, &nType, &priority, &n.Title, &n.Message,
		&n.Category, &meta, &readInt, &createdAt,
	)
	if err != nil {
		return model.Notification{}, fmt.Errorf("scanning notification row: %w", err)
	}

	n.Type = model.NotificationType(nType)
	n.Priority = model.Priority(priority)
	n.Read = readInt != 0
	n.Timestamp = createdAt

	if meta != "" && meta != "{}" && meta != "null" {
		if err := json.Unmarshal([]byte(meta), &n.Metadata); err != nil {
			return model.Notification{}, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}

	return n, nil
}

func marshalMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
