package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-accounts/internal/events"
	"github.com/tendant/simple-accounts/pkg/domain"
	"github.com/tendant/simple-accounts/pkg/repository"
)

type fakeMailer struct {
	to    []string
	links []string
	err   error
}

func (m *fakeMailer) SendPasswordResetEmail(to, resetURL string) error {
	if m.err != nil {
		return m.err
	}
	m.to = append(m.to, to)
	m.links = append(m.links, resetURL)
	return nil
}

func (m *fakeMailer) lastToken(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, m.links, "no reset mail sent")
	u, err := url.Parse(m.links[len(m.links)-1])
	require.NoError(t, err)
	return u.Query().Get("token")
}

type identityFixture struct {
	svc        *IdentityService
	identities *repository.MemoryIdentities
	events     *events.Recorder
	mailer     *fakeMailer
	clock      *clock.Mock
	handles    []string
}

func newIdentityFixture(t *testing.T) *identityFixture {
	t.Helper()
	f := &identityFixture{
		identities: repository.NewMemoryIdentities(),
		events:     &events.Recorder{},
		mailer:     &fakeMailer{},
		clock:      clock.NewMock(),
	}
	f.clock.Set(testEpoch)
	tokens := NewTokenService(TokenConfig{JWTSecret: []byte("test-secret"), Issuer: "test", Clock: f.clock})
	f.svc = NewIdentityService(IdentityConfig{
		ResetURL: "https://site.example/reset-password",
		Clock:    f.clock,
		HandleFunc: func() (string, error) {
			if len(f.handles) == 0 {
				return "", errors.New("no handles left")
			}
			h := f.handles[0]
			f.handles = f.handles[1:]
			return h, nil
		},
	}, f.identities, tokens, nil, f.events, f.mailer, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func (f *identityFixture) signUp(t *testing.T, email, password string) *Session {
	t.Helper()
	session, err := f.svc.SignUp(context.Background(), email, password)
	require.NoError(t, err)
	return session
}

func TestIdentityService_SignUp(t *testing.T) {
	f := newIdentityFixture(t)

	session := f.signUp(t, "  Alice@Example.com ", "secret1")

	require.True(t, session.IsNewUser)
	require.Equal(t, "alice@example.com", session.Identity.Email)
	require.Equal(t, domain.ProviderPassword, session.Identity.Provider)
	require.True(t, session.Identity.CreatedAt.Equal(testEpoch))
	require.NotContains(t, session.Identity.PasswordHash, "secret1")
	require.True(t, VerifyPassword("secret1", session.Identity.PasswordHash))

	claims, err := f.svc.Tokens().ValidateAccessToken(session.Tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, session.Identity.ID.String(), claims.Subject)

	stored, err := f.identities.GetByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, session.Identity.ID, stored.ID)

	require.Equal(t, []string{events.KeyUserRegistered}, f.events.Keys())
}

func TestIdentityService_SignUp_Errors(t *testing.T) {
	f := newIdentityFixture(t)
	f.signUp(t, "alice@example.com", "secret1")

	tests := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{name: "invalid email", email: "not-an-email", password: "secret1", want: domain.ErrInvalidEmail},
		{name: "empty email", email: "", password: "secret1", want: domain.ErrInvalidEmail},
		{name: "weak password", email: "bob@example.com", password: "12345", want: domain.ErrWeakPassword},
		{name: "duplicate", email: "ALICE@example.com", password: "secret1", want: domain.ErrDuplicateEmail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SignUp(context.Background(), tt.email, tt.password)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestIdentityService_SignIn(t *testing.T) {
	f := newIdentityFixture(t)
	created := f.signUp(t, "alice@example.com", "secret1")

	session, err := f.svc.SignIn(context.Background(), "Alice@example.com", "secret1")
	require.NoError(t, err)
	require.False(t, session.IsNewUser)
	require.Equal(t, created.Identity.ID, session.Identity.ID)

	_, err = f.svc.SignIn(context.Background(), "alice@example.com", "wrong")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = f.svc.SignIn(context.Background(), "nobody@example.com", "secret1")
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestIdentityService_SignInFederated(t *testing.T) {
	f := newIdentityFixture(t)
	f.handles = []string{"abcde12345xyz", "abcdeffffffff", "zzzzz00000000"}

	first, err := f.svc.SignInFederated(context.Background())
	require.NoError(t, err)
	require.True(t, first.IsNewUser)
	require.Equal(t, "user_abcde@gmail.com", first.Identity.Email)
	require.Equal(t, "Google user user_abcde", first.Identity.DisplayName)
	require.Equal(t, domain.ProviderGoogle, first.Identity.Provider)
	require.False(t, first.Identity.HasPassword())

	// Same five-character prefix resolves to the same identity.
	again, err := f.svc.SignInFederated(context.Background())
	require.NoError(t, err)
	require.False(t, again.IsNewUser)
	require.Equal(t, first.Identity.ID, again.Identity.ID)

	other, err := f.svc.SignInFederated(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, first.Identity.ID, other.Identity.ID)

	// Federated identities have no password to sign in with.
	_, err = f.svc.SignIn(context.Background(), "user_abcde@gmail.com", "")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = f.svc.SignInFederated(context.Background())
	require.Error(t, err)

	require.Equal(t, []string{events.KeyUserRegistered, events.KeyUserRegistered}, f.events.Keys())
}

func TestIdentityService_Reauthenticate(t *testing.T) {
	f := newIdentityFixture(t)
	created := f.signUp(t, "alice@example.com", "secret1")

	f.clock.Add(10 * time.Minute)
	session, err := f.svc.Reauthenticate(context.Background(), created.Identity.ID, "secret1")
	require.NoError(t, err)

	claims, err := f.svc.Tokens().ValidateAccessToken(session.Tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, f.clock.Now().Unix(), claims.AuthTime)

	_, err = f.svc.Reauthenticate(context.Background(), created.Identity.ID, "wrong")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestIdentityService_UpdateProfile(t *testing.T) {
	f := newIdentityFixture(t)
	created := f.signUp(t, "alice@example.com", "secret1")
	f.clock.Add(time.Minute)

	name := "  Alice Liddell\x00 "
	photo := "https://img.example/alice.png"
	updated, err := f.svc.UpdateProfile(context.Background(), created.Identity.ID, ProfileUpdate{DisplayName: &name, PhotoURL: &photo})
	require.NoError(t, err)
	require.Equal(t, "Alice Liddell", updated.DisplayName)
	require.Equal(t, photo, updated.PhotoURL)
	require.True(t, updated.UpdatedAt.After(updated.CreatedAt))

	// Nil fields are left alone.
	other := "Alice"
	updated, err = f.svc.UpdateProfile(context.Background(), created.Identity.ID, ProfileUpdate{DisplayName: &other})
	require.NoError(t, err)
	require.Equal(t, photo, updated.PhotoURL)

	bad := "javascript:alert(1)"
	_, err = f.svc.UpdateProfile(context.Background(), created.Identity.ID, ProfileUpdate{PhotoURL: &bad})
	require.ErrorIs(t, err, domain.ErrValidation)

	long := strings.Repeat("x", maxDisplayNameLength+1)
	_, err = f.svc.UpdateProfile(context.Background(), created.Identity.ID, ProfileUpdate{DisplayName: &long})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestIdentityService_SensitiveOperationsRequireRecentLogin(t *testing.T) {
	f := newIdentityFixture(t)
	created := f.signUp(t, "alice@example.com", "secret1")
	id := created.Identity.ID
	authTime := f.clock.Now()

	f.clock.Add(DefaultReauthWindow + time.Second)

	_, err := f.svc.ChangeEmail(context.Background(), id, authTime, "new@example.com")
	require.ErrorIs(t, err, domain.ErrRequiresRecentLogin)
	require.ErrorIs(t, f.svc.ChangePassword(context.Background(), id, authTime, "newsecret"), domain.ErrRequiresRecentLogin)
	require.ErrorIs(t, f.svc.Delete(context.Background(), id, authTime), domain.ErrRequiresRecentLogin)

	stored, err := f.svc.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", stored.Email)
}

func TestIdentityService_ChangeEmail(t *testing.T) {
	f := newIdentityFixture(t)
	created := f.signUp(t, "alice@example.com", "secret1")
	f.signUp(t, "taken@example.com", "secret1")
	now := f.clock.Now()

	updated, err := f.svc.ChangeEmail(context.Background(), created.Identity.ID, now, "Alice2@Example.com")
	require.NoError(t, err)
	require.Equal(t, "alice2@example.com", updated.Email)

	_, err = f.svc.SignIn(context.Background(), "alice2@example.com", "secret1")
	require.NoError(t, err)

	_, err = f.svc.ChangeEmail(context.Background(), created.Identity.ID, now, "taken@example.com")
	require.ErrorIs(t, err, domain.ErrDuplicateEmail)

	_, err = f.svc.ChangeEmail(context.Background(), created.Identity.ID, now, "broken")
	require.ErrorIs(t, err, domain.ErrInvalidEmail)
}

func TestIdentityService_ChangePassword(t *testing.T) {
	f := newIdentityFixture(t)
	created := f.signUp(t, "alice@example.com", "secret1")
	now := f.clock.Now()

	require.ErrorIs(t, f.svc.ChangePassword(context.Background(), created.Identity.ID, now, "123"), domain.ErrWeakPassword)
	require.NoError(t, f.svc.ChangePassword(context.Background(), created.Identity.ID, now, "newsecret"))

	_, err := f.svc.SignIn(context.Background(), "alice@example.com", "secret1")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = f.svc.SignIn(context.Background(), "alice@example.com", "newsecret")
	require.NoError(t, err)
}

func TestIdentityService_Delete(t *testing.T) {
	f := newIdentityFixture(t)
	created := f.signUp(t, "alice@example.com", "secret1")

	require.NoError(t, f.svc.Delete(context.Background(), created.Identity.ID, f.clock.Now()))

	_, err := f.svc.Get(context.Background(), created.Identity.ID)
	require.ErrorIs(t, err, domain.ErrUserNotFound)
	require.Equal(t, []string{events.KeyUserRegistered, events.KeyUserDeleted}, f.events.Keys())

	deleted := f.events.Messages()[1].Event.(events.UserDeleted)
	require.Equal(t, "alice@example.com", deleted.Email)
}

func TestIdentityService_PasswordReset(t *testing.T) {
	f := newIdentityFixture(t)
	f.signUp(t, "alice@example.com", "secret1")

	require.NoError(t, f.svc.RequestPasswordReset(context.Background(), "Alice@example.com"))
	require.Equal(t, []string{"alice@example.com"}, f.mailer.to)
	require.True(t, strings.HasPrefix(f.mailer.links[0], "https://site.example/reset-password?token="))
	token := f.mailer.lastToken(t)

	require.ErrorIs(t, f.svc.ConfirmPasswordReset(context.Background(), token, "123"), domain.ErrWeakPassword)
	require.NoError(t, f.svc.ConfirmPasswordReset(context.Background(), token, "brandnew"))

	_, err := f.svc.SignIn(context.Background(), "alice@example.com", "brandnew")
	require.NoError(t, err)

	// The token is spent once the password changes.
	require.ErrorIs(t, f.svc.ConfirmPasswordReset(context.Background(), token, "another1"), domain.ErrInvalidToken)
	require.ErrorIs(t, f.svc.ConfirmPasswordReset(context.Background(), "garbage", "another1"), domain.ErrInvalidToken)

	require.Contains(t, f.events.Keys(), events.KeyPasswordReset)
}

func TestIdentityService_PasswordReset_Errors(t *testing.T) {
	f := newIdentityFixture(t)
	f.signUp(t, "alice@example.com", "secret1")

	require.ErrorIs(t, f.svc.RequestPasswordReset(context.Background(), "nobody@example.com"), domain.ErrUserNotFound)
	require.ErrorIs(t, f.svc.RequestPasswordReset(context.Background(), "nope"), domain.ErrInvalidEmail)

	f.mailer.err = errors.New("smtp down")
	require.ErrorContains(t, f.svc.RequestPasswordReset(context.Background(), "alice@example.com"), "smtp down")

	// Without a mailer the request succeeds and nothing is sent.
	noMail := NewIdentityService(IdentityConfig{Clock: f.clock}, f.identities, f.svc.Tokens(), nil, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, noMail.RequestPasswordReset(context.Background(), "alice@example.com"))
}

func TestIdentityService_PasswordRequirements(t *testing.T) {
	f := newIdentityFixture(t)
	require.Equal(t, "Password must contain at least 6 characters", f.svc.PasswordRequirements())
}
