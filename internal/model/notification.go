package model

import (
	"strings"
	"time"
)

// NotificationType is a presentation hint for a notification.
type NotificationType string

const (
	NotificationInfo    NotificationType = "info"
	NotificationSuccess NotificationType = "success"
	NotificationWarning NotificationType = "warning"
	NotificationError   NotificationType = "error"
)

// NotificationTypes lists the known types in display order.
var NotificationTypes = []NotificationType{
	NotificationInfo,
	NotificationSuccess,
	NotificationWarning,
	NotificationError,
}

// Priority is an ordering and visual hint for a notification.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Priorities lists the known priorities from lowest to highest.
var Priorities = []Priority{
	PriorityLow,
	PriorityMedium,
	PriorityHigh,
	PriorityCritical,
}

// Notification represents an alert or update surfaced to the signed-in
// user by the event platform.
type Notification struct {
	// ID is the unique identifier for this notification. It never changes
	// once the record exists.
	ID string `json:"id"`

	// Type is one of info, success, warning or error.
	Type NotificationType `json:"type"`

	// Priority is one of low, medium, high or critical.
	Priority Priority `json:"priority"`

	// Title is the short headline shown in lists.
	Title string `json:"title"`

	// Message is the human-readable notification body.
	Message string `json:"message"`

	// Timestamp is when the notification was created. Lists sort on it,
	// newest first.
	Timestamp time.Time `json:"timestamp"`

	// Read indicates whether the user has seen this notification.
	Read bool `json:"read"`

	// Category is an optional free-form classification (e.g. "event",
	// "reservation").
	Category string `json:"category,omitempty"`

	// Metadata holds optional attachment data from the platform.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NormalizeType maps a platform type string onto the four known types.
// The second return value is true when the input was not one of them;
// callers keep the raw value as a category in that case.
func NormalizeType(raw string) (NotificationType, bool) {
	t := NotificationType(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range NotificationTypes {
		if t == known {
			return t, false
		}
	}
	return NotificationInfo, true
}

// NormalizePriority maps a platform priority string onto the four known
// priorities. The platform also emits "urgent" and "normal".
func NormalizePriority(raw string) Priority {
	p := Priority(strings.ToLower(strings.TrimSpace(raw)))
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return p
	case "urgent":
		return PriorityCritical
	default:
		return PriorityMedium
	}
}

// NotificationFilter holds the active filter criteria for a notification
// list. Zero-valued fields match everything.
type NotificationFilter struct {
	Type        NotificationType
	Priority    Priority
	SearchQuery string
	UnreadOnly  bool
}

// IsZero reports whether no criteria are set.
func (f NotificationFilter) IsZero() bool {
	return f.Type == "" &&
		f.Priority == "" &&
		strings.TrimSpace(f.SearchQuery) == "" &&
		!f.UnreadOnly
}

// Matches reports whether n satisfies every active criterion. The search
// query is a case-insensitive substring match on title and message.
func (f NotificationFilter) Matches(n Notification) bool {
	if f.Type != "" && n.Type != f.Type {
		return false
	}
	if f.Priority != "" && n.Priority != f.Priority {
		return false
	}
	if f.UnreadOnly && n.Read {
		return false
	}
	q := strings.ToLower(strings.TrimSpace(f.SearchQuery))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(n.Title), q) ||
		strings.Contains(strings.ToLower(n.Message), q)
}
