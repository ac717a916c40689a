package domain

import (
	"time"

	"github.com/google/uuid"
)

// Identity is an account as the hosted identity service knows it.
type Identity struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	DisplayName  string    `json:"displayName,omitempty"`
	PhotoURL     string    `json:"photoURL,omitempty"`
	Provider     string    `json:"provider"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ProviderPassword tags identities created by email/password sign-up.
const ProviderPassword = "password"

// HasPassword reports whether the identity can sign in with a password.
func (i *Identity) HasPassword() bool {
	return i.PasswordHash != ""
}

// Document is a user document in the hosted document store.
type Document struct {
	UserID    uuid.UUID      `json:"userId"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// TokenPair represents an issued access token.
type TokenPair struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int       `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
}
