package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/eventdesk/internal/model"
	"github.com/nhle/eventdesk/internal/source"
)

// timestampLayouts are tried in order. The platform writes naive UTC
// timestamps without a zone suffix.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// ListOptions filters and paginates GET /api/notifications.
type ListOptions struct {
	Skip     int
	Limit    int
	Type     string
	Priority string
	Read     *bool
}

// Adapter exposes the platform API in domain terms. It implements
// source.Fetcher and backs the session, push, and UI layers.
type Adapter struct {
	client   *Client
	pageSize int
}

var _ source.Fetcher = (*Adapter)(nil)

// NewAdapter creates a platform adapter. token supplies the current
// bearer token for every request.
func NewAdapter(cfg model.APIConfig, token func() string) *Adapter {
	pageSize := cfg.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}
	return &Adapter{
		client:   NewClient(cfg.BaseURL, cfg.Timeout, cfg.RequestsPerSec, token),
		pageSize: pageSize,
	}
}

// Type returns the source type identifier for the platform API.
func (a *Adapter) Type() source.SourceType {
	return source.SourceTypeAPI
}

// BaseURL returns the platform root URL.
func (a *Adapter) BaseURL() string {
	return a.client.BaseURL()
}

// Login exchanges credentials for an access token.
func (a *Adapter) Login(ctx context.Context, email, password string) (string, model.User, error) {
	var resp LoginResponse
	err := a.client.Post(ctx, "/api/login", LoginRequest{Email: email, Password: password}, &resp)
	if err != nil {
		return "", model.User{}, fmt.Errorf("logging in: %w", err)
	}
	if resp.AccessToken == "" {
		return "", model.User{}, fmt.Errorf("logging in: response carried no access token")
	}
	return resp.AccessToken, toUser(resp.User), nil
}

// Me returns the account behind the current token.
func (a *Adapter) Me(ctx context.Context) (model.User, error) {
	var env Envelope[UserDTO]
	if err := a.client.Get(ctx, "/api/me", nil, &env); err != nil {
		return model.User{}, fmt.Errorf("getting profile: %w", err)
	}
	return toUser(env.Data), nil
}

// RefreshToken asks the platform for a new token for the current user.
func (a *Adapter) RefreshToken(ctx context.Context) (string, error) {
	var resp TokenResponse
	if err := a.client.Post(ctx, "/api/refresh-token", nil, &resp); err != nil {
		return "", fmt.Errorf("refreshing token: %w", err)
	}
	return resp.AccessToken, nil
}

// Logout ends the session on the platform.
func (a *Adapter) Logout(ctx context.Context) error {
	if err := a.client.Post(ctx, "/api/logout", nil, nil); err != nil {
		return fmt.Errorf("logging out: %w", err)
	}
	return nil
}

// FetchNotifications retrieves the newest page of notifications.
func (a *Adapter) FetchNotifications(ctx context.Context) ([]model.Notification, error) {
	page, err := a.ListNotifications(ctx, ListOptions{Limit: a.pageSize})
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// Page is a converted page of notifications.
type Page struct {
	Items       []model.Notification
	Total       int
	UnreadCount int
	HasMore     bool
}

// ListNotifications retrieves a filtered page of notifications.
func (a *Adapter) ListNotifications(ctx context.Context, opts ListOptions) (*Page, error) {
	q := url.Values{}
	limit := opts.Limit
	if limit < 1 {
		limit = a.pageSize
	}
	q.Set("skip", strconv.Itoa(opts.Skip))
	q.Set("limit", strconv.Itoa(limit))
	if opts.Type != "" {
		q.Set("type", opts.Type)
	}
	if opts.Priority != "" {
		q.Set("priority", opts.Priority)
	}
	if opts.Read != nil {
		q.Set("read", strconv.FormatBool(*opts.Read))
	}

	var env Envelope[NotificationPage]
	if err := a.client.Get(ctx, "/api/notifications", q, &env); err != nil {
		return nil, fmt.Errorf("fetching notifications: %w", err)
	}

	items := make([]model.Notification, 0, len(env.Data.Notifications))
	for _, dto := range env.Data.Notifications {
		items = append(items, ToNotification(dto))
	}

	return &Page{
		Items:       items,
		Total:       env.Data.Total,
		UnreadCount: env.Data.UnreadCount,
		HasMore:     env.Data.HasMore,
	}, nil
}

// MarkRead marks a notification as read on the platform.
func (a *Adapter) MarkRead(ctx context.Context, id string) error {
	read := true
	path := "/api/notifications/" + url.PathEscape(id)
	if err := a.client.Put(ctx, path, UpdateNotificationRequest{Read: &read}, nil); err != nil {
		return fmt.Errorf("marking notification %s read: %w", id, err)
	}
	return nil
}

// MarkAllRead marks every notification as read on the platform.
func (a *Adapter) MarkAllRead(ctx context.Context) error {
	if err := a.client.Post(ctx, "/api/notifications/mark-all-read", nil, nil); err != nil {
		return fmt.Errorf("marking all notifications read: %w", err)
	}
	return nil
}

// Delete removes a notification on the platform.
func (a *Adapter) Delete(ctx context.Context, id string) error {
	if err := a.client.Delete(ctx, "/api/notifications/"+url.PathEscape(id), nil); err != nil {
		return fmt.Errorf("deleting notification %s: %w", id, err)
	}
	return nil
}

// ClearAll removes every notification on the platform.
func (a *Adapter) ClearAll(ctx context.Context) error {
	if err := a.client.Post(ctx, "/api/notifications/clear-all", nil, nil); err != nil {
		return fmt.Errorf("clearing notifications: %w", err)
	}
	return nil
}

// UnreadCount returns the platform's unread count.
func (a *Adapter) UnreadCount(ctx context.Context) (int, error) {
	var env Envelope[UnreadCountResponse]
	if err := a.client.Get(ctx, "/api/notifications/unread-count", nil, &env); err != nil {
		return 0, fmt.Errorf("getting unread count: %w", err)
	}
	return env.Data.UnreadCount, nil
}

// RegisterSubscription registers the device's push endpoint.
func (a *Adapter) RegisterSubscription(ctx context.Context, sub model.PushSubscription) error {
	req := SubscribeRequest{Endpoint: sub.Endpoint, Keys: sub.Keys()}
	if err := a.client.Post(ctx, "/api/notifications/subscribe", req, nil); err != nil {
		return fmt.Errorf("registering push subscription: %w", err)
	}
	return nil
}

// UnregisterSubscription removes the device's push endpoint.
func (a *Adapter) UnregisterSubscription(ctx context.Context, sub model.PushSubscription) error {
	req := UnsubscribeRequest{Endpoint: sub.Endpoint}
	if err := a.client.Post(ctx, "/api/notifications/unsubscribe", req, nil); err != nil {
		return fmt.Errorf("unregistering push subscription: %w", err)
	}
	return nil
}

// ToNotification converts a platform notification into the domain model.
// Types outside info/success/warning/error collapse to info and keep
// the raw value as the category.
func ToNotification(dto NotificationDTO) model.Notification {
	typ, unknown := model.NormalizeType(dto.Type)
	category := dto.Category
	if unknown && category == "" {
		category = strings.ToLower(strings.TrimSpace(dto.Type))
	}

	return model.Notification{
		ID:        dto.ID,
		Type:      typ,
		Priority:  model.NormalizePriority(dto.Priority),
		Title:     dto.Title,
		Message:   dto.Message,
		Timestamp: ParseTimestamp(dto.Timestamp),
		Read:      dto.Read,
		Category:  category,
		Metadata:  dto.Metadata,
	}
}

// ParseTimestamp parses a platform timestamp. Naive values are UTC. An
// unparseable value yields the zero time.
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func toUser(u UserDTO) model.User {
	return model.User{
		ID:     u.ID,
		Email:  u.Email,
		Name:   u.Name,
		Role:   u.Role,
		Center: u.Center,
	}
}
