package model

import "time"

// User is the platform account behind the current session.
type User struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Center string `json:"center"`
}

// DisplayName returns the user's name, falling back to the email address.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// SessionState is a snapshot of the authentication state.
type SessionState struct {
	Authenticated bool
	User          User
	ExpiresAt     time.Time
}
