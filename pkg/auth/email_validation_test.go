package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-accounts/pkg/domain"
	"github.com/tendant/simple-accounts/pkg/repository"
)

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name            string
		email           string
		strict          bool
		blockDisposable bool
		wantErr         bool
	}{
		{name: "plain", email: "alice@example.com"},
		{name: "mixed case with spaces", email: "  Alice@Example.COM "},
		{name: "plus tag", email: "alice+accounts@mail.example.com"},
		{name: "empty", email: "", wantErr: true},
		{name: "no at sign", email: "alice.example.com", wantErr: true},
		{name: "no host", email: "alice@", wantErr: true},
		{name: "no local part", email: "@example.com", wantErr: true},
		{name: "display name form", email: "Alice <alice@example.com>", wantErr: true},
		{name: "too long", email: strings.Repeat("a", 250) + "@example.com", wantErr: true},
		{name: "leading hyphen host", email: "alice@-example.com"},
		{name: "leading hyphen host strict", email: "alice@-example.com", strict: true, wantErr: true},
		{name: "strict plain", email: "alice@example.com", strict: true},
		{name: "disposable allowed", email: "alice@mailinator.com"},
		{name: "disposable blocked", email: "alice@Mailinator.com", blockDisposable: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmail(tt.email, tt.strict, tt.blockDisposable)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEmail(%q) error = %v, wantErr %v", tt.email, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrInvalidEmail) {
				t.Errorf("ValidateEmail(%q) error = %v, want ErrInvalidEmail", tt.email, err)
			}
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Alice@Example.COM\t"); got != "alice@example.com" {
		t.Errorf("NormalizeEmail() = %q, want %q", got, "alice@example.com")
	}
}

func TestSignUp_EmailSettings(t *testing.T) {
	tokens := NewTokenService(TokenConfig{JWTSecret: []byte("test-secret"), Issuer: "test"})
	svc := NewIdentityService(IdentityConfig{BlockDisposableEmail: true},
		repository.NewMemoryIdentities(), tokens, nil, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	_, err := svc.SignUp(ctx, "bob@tempmail.com", "secret1")
	require.ErrorIs(t, err, domain.ErrInvalidEmail)

	session, err := svc.SignUp(ctx, " Bob@Example.com ", "secret1")
	require.NoError(t, err)
	require.Equal(t, "bob@example.com", session.Identity.Email)

	_, err = svc.SignIn(ctx, "BOB@example.com", "secret1")
	require.NoError(t, err)
}
