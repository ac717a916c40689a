// Package accounts implements the account store: registration, login, a
// simulated federated login, logout, profile updates and session lookup.
package accounts

import (
	"context"

	"github.com/tendant/simple-accounts/pkg/domain"
)

// AccountStore is the capability shared by the local and hosted backends.
// Returned accounts never carry the password checksum.
type AccountStore interface {
	Register(ctx context.Context, email, password, username string, extra map[string]any) (*domain.Account, error)
	Login(ctx context.Context, email, password string) (*domain.Account, error)
	LoginWithProvider(ctx context.Context) (*domain.Account, error)
	Logout(ctx context.Context) error
	// CurrentUser returns the session account, or nil when logged out.
	CurrentUser(ctx context.Context) (*domain.Account, error)
	IsLoggedIn(ctx context.Context) bool
	UpdateProfile(ctx context.Context, fields map[string]any) (*domain.Account, error)
}
