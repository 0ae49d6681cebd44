package api

import "encoding/json"

// Envelope is the platform's standard response wrapper.
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// ErrorResponse is the body of a failed request. Detail is usually a
// string but validation failures return a list of objects.
type ErrorResponse struct {
	Detail json.RawMessage `json:"detail"`
}

// LoginRequest is the body of POST /api/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is the (unwrapped) response from POST /api/login.
type LoginResponse struct {
	AccessToken string  `json:"access_token"`
	TokenType   string  `json:"token_type"`
	User        UserDTO `json:"user"`
}

// TokenResponse is the response from POST /api/refresh-token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// UserDTO is a platform user account.
type UserDTO struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Center string `json:"center"`
}

// NotificationDTO is a notification as returned by the platform.
type NotificationDTO struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Type      string         `json:"type"`
	Priority  string         `json:"priority"`
	Read      bool           `json:"read"`
	Timestamp string         `json:"timestamp"`
	Category  string         `json:"category,omitempty"`
	Center    string         `json:"center,omitempty"`
	ExpiresAt *string        `json:"expires_at,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NotificationPage is the data payload of GET /api/notifications.
type NotificationPage struct {
	Notifications []NotificationDTO `json:"notifications"`
	Total         int               `json:"total"`
	UnreadCount   int               `json:"unread_count"`
	Page          int               `json:"page"`
	PerPage       int               `json:"per_page"`
	HasMore       bool              `json:"has_more"`
}

// UnreadCountResponse is the data payload of
// GET /api/notifications/unread-count.
type UnreadCountResponse struct {
	UnreadCount int `json:"unread_count"`
}

// UpdateNotificationRequest is the body of PUT /api/notifications/{id}.
type UpdateNotificationRequest struct {
	Read     *bool `json:"read,omitempty"`
	Archived *bool `json:"archived,omitempty"`
}

// CreateNotificationRequest is the body of the admin-only
// POST /api/notifications.
type CreateNotificationRequest struct {
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Type     string         `json:"type,omitempty"`
	Priority string         `json:"priority,omitempty"`
	UserID   string         `json:"user_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SubscribeRequest is the body of POST /api/notifications/subscribe.
type SubscribeRequest struct {
	Endpoint string            `json:"endpoint"`
	Keys     map[string]string `json:"keys"`
}

// UnsubscribeRequest is the body of POST /api/notifications/unsubscribe.
type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}
