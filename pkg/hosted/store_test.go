package hosted

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	apihttp "github.com/tendant/simple-accounts/internal/http"
	"github.com/tendant/simple-accounts/pkg/auth"
	"github.com/tendant/simple-accounts/pkg/domain"
	"github.com/tendant/simple-accounts/pkg/repository"
)

var testEpoch = time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

type resetMailer struct {
	mu    sync.Mutex
	links []string
}

func (m *resetMailer) SendPasswordResetEmail(_, resetURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = append(m.links, resetURL)
	return nil
}

func (m *resetMailer) lastToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.links)
	u, err := url.Parse(m.links[len(m.links)-1])
	require.NoError(t, err)
	return u.Query().Get("token")
}

type hostedFixture struct {
	client *Client
	mailer *resetMailer
	clock  *clock.Mock
}

func newHostedFixture(t *testing.T) *hostedFixture {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(testEpoch)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mailer := &resetMailer{}

	tokens := auth.NewTokenService(auth.TokenConfig{JWTSecret: []byte("hosted-test"), Clock: clk})
	identities := auth.NewIdentityService(auth.IdentityConfig{ResetURL: "https://site.example/reset", Clock: clk},
		repository.NewMemoryIdentities(), tokens, nil, nil, mailer, logger)

	server := httptest.NewServer(apihttp.NewRouter(apihttp.RouterConfig{
		Logger:          logger,
		IdentityService: identities,
		Documents:       repository.NewMemoryDocuments(),
		Clock:           clk,
	}))
	t.Cleanup(server.Close)

	return &hostedFixture{client: NewClient(server.URL, server.Client()), mailer: mailer, clock: clk}
}

func (f *hostedFixture) store() *Store {
	return NewStore(Config{Client: f.client, Clock: f.clock, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
}

func requireProviderCode(t *testing.T, err error, code string) {
	t.Helper()
	var perr *ProviderError
	require.True(t, errors.As(err, &perr), "want *ProviderError, got %T: %v", err, err)
	require.Equal(t, code, perr.Code)
}

func TestStore_Register(t *testing.T) {
	f := newHostedFixture(t)
	s := f.store()
	ctx := context.Background()

	acc, err := s.Register(ctx, "a@x.com", "secret1", "alice", map[string]any{"city": "Paris", "id": "forged"})
	require.NoError(t, err)
	require.Equal(t, "a@x.com", acc.Email)
	require.Equal(t, "alice", acc.Username)
	require.Equal(t, "alice", acc.DisplayName)
	require.Equal(t, "2025-03-14T09:26:53.589Z", acc.CreatedAt)
	require.Equal(t, "Paris", acc.Extra["city"])
	require.NotEqual(t, "forged", acc.ID)
	require.Empty(t, acc.Password)

	current, err := s.CurrentUser(ctx)
	require.NoError(t, err)
	require.Equal(t, acc, current)
	require.True(t, s.IsLoggedIn(ctx))

	profile, err := s.Profile(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", profile["username"])
	require.Equal(t, "a@x.com", profile["email"])
	require.Equal(t, "email", profile["authProvider"])
	require.Equal(t, "2025-03-14T09:26:53.589Z", profile["createdAt"])
}

func TestStore_Register_DefaultUsername(t *testing.T) {
	f := newHostedFixture(t)
	acc, err := f.store().Register(context.Background(), "bob@x.com", "secret1", "", nil)
	require.NoError(t, err)
	require.Equal(t, "bob", acc.Username)
}

func TestStore_Register_Errors(t *testing.T) {
	f := newHostedFixture(t)
	ctx := context.Background()
	_, err := f.store().Register(ctx, "a@x.com", "secret1", "alice", nil)
	require.NoError(t, err)

	tests := []struct {
		name     string
		email    string
		password string
		code     string
		sentinel error
	}{
		{"duplicate", "a@x.com", "other1", "auth/email-already-in-use", domain.ErrDuplicateEmail},
		{"weak password", "b@x.com", "123", "auth/weak-password", domain.ErrWeakPassword},
		{"invalid email", "nope", "secret1", "auth/invalid-email", domain.ErrInvalidEmail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := f.store()
			_, err := s.Register(ctx, tt.email, tt.password, "x", nil)
			requireProviderCode(t, err, tt.code)
			require.ErrorIs(t, err, tt.sentinel)
			require.False(t, s.IsLoggedIn(ctx))
		})
	}
}

func TestStore_Login(t *testing.T) {
	f := newHostedFixture(t)
	ctx := context.Background()
	registered, err := f.store().Register(ctx, "a@x.com", "secret1", "alice", map[string]any{"city": "Paris"})
	require.NoError(t, err)

	s := f.store()
	_, err = s.Login(ctx, "a@x.com", "wrong1")
	requireProviderCode(t, err, "auth/wrong-password")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
	require.False(t, s.IsLoggedIn(ctx))

	_, err = s.Login(ctx, "nobody@x.com", "secret1")
	require.ErrorIs(t, err, domain.ErrUserNotFound)

	acc, err := s.Login(ctx, "a@x.com", "secret1")
	require.NoError(t, err)
	require.Equal(t, registered, acc)
}

func TestStore_Logout(t *testing.T) {
	f := newHostedFixture(t)
	ctx := context.Background()
	s := f.store()
	_, err := s.Register(ctx, "a@x.com", "secret1", "alice", nil)
	require.NoError(t, err)

	require.NoError(t, s.Logout(ctx))
	require.False(t, s.IsLoggedIn(ctx))
	current, err := s.CurrentUser(ctx)
	require.NoError(t, err)
	require.Nil(t, current)
}

func TestStore_UpdateProfile(t *testing.T) {
	f := newHostedFixture(t)
	ctx := context.Background()
	s := f.store()

	_, err := s.UpdateProfile(ctx, map[string]any{"username": "x"})
	require.ErrorIs(t, err, domain.ErrNotAuthenticated)

	_, err = s.Register(ctx, "a@x.com", "secret1", "alice", nil)
	require.NoError(t, err)
	f.clock.Add(time.Minute)

	acc, err := s.UpdateProfile(ctx, map[string]any{
		"displayName": "Alice A.",
		"username":    "alice2",
		"bio":         "hello",
		"email":       "new@x.com",
		"createdAt":   "1999-01-01T00:00:00.000Z",
	})
	require.NoError(t, err)
	require.Equal(t, "Alice A.", acc.DisplayName)
	require.Equal(t, "alice2", acc.Username)
	require.Equal(t, "hello", acc.Extra["bio"])
	require.Equal(t, "a@x.com", acc.Email)
	require.Equal(t, "2025-03-14T09:26:53.589Z", acc.CreatedAt)
	require.Equal(t, "2025-03-14T09:27:53.589Z", acc.UpdatedAt)

	// A display name change alone keeps the document-derived values.
	acc, err = s.UpdateProfile(ctx, map[string]any{"photoURL": "https://example.com/a.png"})
	require.NoError(t, err)
	require.Equal(t, "alice2", acc.Username)
	require.Equal(t, "hello", acc.Extra["bio"])
	require.Equal(t, "https://example.com/a.png", acc.Extra["photoURL"])

	_, err = s.UpdateProfile(ctx, map[string]any{"displayName": 42})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestStore_UpdateProfile_DisplayNameOnlyStampsDocument(t *testing.T) {
	f := newHostedFixture(t)
	ctx := context.Background()
	s := f.store()

	acc, err := s.Register(ctx, "a@x.com", "secret1", "alice", nil)
	require.NoError(t, err)
	f.clock.Add(time.Minute)

	updated, err := s.UpdateProfile(ctx, map[string]any{"displayName": "Alice"})
	require.NoError(t, err)
	require.Equal(t, "Alice", updated.DisplayName)
	require.Equal(t, "2025-03-14T09:27:53.589Z", updated.UpdatedAt)

	profile, err := s.Profile(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, "2025-03-14T09:27:53.589Z", profile[domain.FieldUpdatedAt])
	require.Equal(t, "alice", profile[domain.FieldUsername])
}

func TestStore_ChangeEmail(t *testing.T) {
	f := newHostedFixture(t)
	ctx := context.Background()
	s := f.store()
	registered, err := s.Register(ctx, "a@x.com", "secret1", "alice", nil)
	require.NoError(t, err)

	_, err = s.ChangeEmail(ctx, "b@x.com", "wrong1")
	requireProviderCode(t, err, "auth/wrong-password")

	// Sensitive operations re-verify regardless of how old the sign-in is.
	f.clock.Add(time.Hour - time.Minute)

	acc, err := s.ChangeEmail(ctx, "b@x.com", "secret1")
	require.NoError(t, err)
	require.Equal(t, "b@x.com", acc.Email)

	profile, err := s.Profile(ctx, registered.ID)
	require.NoError(t, err)
	require.Equal(t, "b@x.com", profile["email"])

	_, err = f.store().Login(ctx, "b@x.com", "secret1")
	require.NoError(t, err)
}

func TestStore_ChangePassword(t *testing.T) {
	f := newHostedFixture(t)
	ctx := context.Background()
	s := f.store()
	_, err := s.Register(ctx, "a@x.com", "secret1", "alice", nil)
	require.NoError(t, err)

	err = s.ChangePassword(ctx, "wrong1", "newsecret")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	require.NoError(t, s.ChangePassword(ctx, "secret1", "newsecret"))
	_, err = f.store().Login(ctx, "a@x.com", "newsecret")
	require.NoError(t, err)
}

func TestStore_DeleteAccount(t *testing.T) {
	f := newHostedFixture(t)
	ctx := context.Background()
	s := f.store()
	_, err := s.Register(ctx, "a@x.com", "secret1", "alice", nil)
	require.NoError(t, err)

	require.ErrorIs(t, s.DeleteAccount(ctx, "wrong1"), domain.ErrInvalidCredentials)
	require.True(t, s.IsLoggedIn(ctx))

	require.NoError(t, s.DeleteAccount(ctx, "secret1"))
	require.False(t, s.IsLoggedIn(ctx))

	_, err = f.store().Login(ctx, "a@x.com", "secret1")
	requireProviderCode(t, err, "auth/user-not-found")

	require.ErrorIs(t, s.DeleteAccount(ctx, "secret1"), domain.ErrNotAuthenticated)
}

func TestStore_Profile(t *testing.T) {
	f := newHostedFixture(t)
	ctx := context.Background()
	s := f.store()
	acc, err := s.Register(ctx, "a@x.com", "secret1", "alice", nil)
	require.NoError(t, err)

	session, err := s.current()
	require.NoError(t, err)
	require.NoError(t, f.client.DeleteDocument(ctx, session.Tokens.AccessToken, session.Identity.ID))

	_, err = s.Profile(ctx, acc.ID)
	require.ErrorIs(t, err, ErrProfileNotFound)

	_, err = s.Profile(ctx, "not-a-uuid")
	require.ErrorIs(t, err, domain.ErrValidation)

	other, err := f.store().Register(ctx, "b@x.com", "secret1", "bob", nil)
	require.NoError(t, err)
	_, err = s.Profile(ctx, other.ID)
	requireProviderCode(t, err, "documents/permission-denied")
}

func TestStore_LoginWithProvider(t *testing.T) {
	f := newHostedFixture(t)
	ctx := context.Background()
	s := f.store()

	acc, err := s.LoginWithProvider(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.ProviderGoogle, acc.Provider)
	require.Regexp(t, `^user_[0-9a-z]{5}@gmail\.com$`, acc.Email)
	require.Equal(t, "Google user "+acc.Username, acc.DisplayName)

	profile, err := s.Profile(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, "google", profile["authProvider"])
}

func TestStore_LoginWithProvider_HidesCause(t *testing.T) {
	s := NewStore(Config{Client: NewClient("http://127.0.0.1:1", nil), Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	_, err := s.LoginWithProvider(context.Background())
	require.ErrorIs(t, err, domain.ErrFederatedLogin)
}

func TestStore_PasswordReset(t *testing.T) {
	f := newHostedFixture(t)
	ctx := context.Background()
	_, err := f.store().Register(ctx, "a@x.com", "secret1", "alice", nil)
	require.NoError(t, err)

	s := f.store()
	requireProviderCode(t, s.ResetPassword(ctx, "nobody@x.com"), "auth/user-not-found")
	require.NoError(t, s.ResetPassword(ctx, "a@x.com"))

	token := f.mailer.lastToken(t)
	require.NoError(t, s.ConfirmPasswordReset(ctx, token, "brandnew"))
	requireProviderCode(t, s.ConfirmPasswordReset(ctx, token, "another1"), "auth/invalid-token")

	_, err = s.Login(ctx, "a@x.com", "brandnew")
	require.NoError(t, err)
}

func TestStore_OnAuthStateChanged(t *testing.T) {
	f := newHostedFixture(t)
	ctx := context.Background()
	s := f.store()

	var seen []*domain.Account
	unsubscribe := s.OnAuthStateChanged(func(acc *domain.Account) { seen = append(seen, acc) })
	require.Len(t, seen, 1)
	require.Nil(t, seen[0])

	acc, err := s.Register(ctx, "a@x.com", "secret1", "alice", nil)
	require.NoError(t, err)
	require.NoError(t, s.Logout(ctx))

	require.Len(t, seen, 3)
	require.Equal(t, acc, seen[1])
	require.Nil(t, seen[2])

	unsubscribe()
	_, err = s.Login(ctx, "a@x.com", "secret1")
	require.NoError(t, err)
	require.Len(t, seen, 3)
}

func TestProviderError_Is(t *testing.T) {
	err := &ProviderError{Code: "documents/not-found", Message: "document not found", Status: 404}
	require.ErrorIs(t, err, ErrProfileNotFound)
	require.ErrorIs(t, err, domain.ErrDocumentNotFound)
	require.NotErrorIs(t, err, domain.ErrUserNotFound)

	unknown := &ProviderError{Code: "something/else"}
	require.NotErrorIs(t, unknown, domain.ErrValidation)
	require.Equal(t, "something/else", unknown.Error())
}
