// Package events publishes account lifecycle events.
package events

import "time"

// Routing keys.
const (
	KeyUserRegistered = "user.registered"
	KeyUserDeleted    = "user.deleted"
	KeyPasswordReset  = "user.password_reset"
)

type UserRegistered struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}

type UserDeleted struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	DeletedAt time.Time `json:"deleted_at"`
}

type PasswordReset struct {
	UserID string    `json:"user_id"`
	At     time.Time `json:"at"`
}
