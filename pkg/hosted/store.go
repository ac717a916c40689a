package hosted

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/tendant/simple-accounts/pkg/accounts"
	"github.com/tendant/simple-accounts/pkg/domain"
)

// Document fields managed by the store.
const (
	docAuthProvider = "authProvider"
	docPhotoURL     = "photoURL"

	authProviderEmail = "email"
)

// Config configures a Store.
type Config struct {
	// Client reaches the identity and document services (required).
	Client *Client
	// Clock stamps document updates (default: the wall clock).
	Clock  clock.Clock
	Logger *slog.Logger
}

// Store is the AccountStore backed by the hosted services. It holds one
// signed-in session in memory, so each visitor needs a Store of their own.
type Store struct {
	client *Client
	clock  clock.Clock
	logger *slog.Logger

	mu        sync.Mutex
	session   *Session
	account   *domain.Account
	listeners map[int]func(*domain.Account)
	nextID    int
}

var _ accounts.AccountStore = (*Store)(nil)

// NewStore creates a hosted account store.
func NewStore(cfg Config) *Store {
	s := &Store{
		client:    cfg.Client,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		listeners: make(map[int]func(*domain.Account)),
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Register creates the identity, names it after username and writes the
// user document. The username defaults to the local part of the email.
func (s *Store) Register(ctx context.Context, email, password, username string, extra map[string]any) (*domain.Account, error) {
	if username == "" {
		username, _, _ = strings.Cut(email, "@")
	}

	session, err := s.client.SignUp(ctx, email, password)
	if err != nil {
		return nil, err
	}
	token := session.Tokens.AccessToken

	identity, err := s.client.UpdateProfile(ctx, token, ProfileUpdate{DisplayName: &username})
	if err != nil {
		return nil, err
	}
	session.Identity = identity

	fields := make(map[string]any, len(extra)+4)
	for k, v := range extra {
		if !managedField(k) {
			fields[k] = v
		}
	}
	fields[domain.FieldUsername] = username
	fields[domain.FieldEmail] = identity.Email
	fields[domain.FieldCreatedAt] = domain.FormatTimestamp(identity.CreatedAt)
	fields[docAuthProvider] = authProviderEmail

	doc, err := s.client.PutDocument(ctx, token, identity.ID, fields)
	if err != nil {
		return nil, err
	}

	s.logger.Info("account registered", "id", identity.ID)
	return s.signIn(session, doc), nil
}

// Login signs in with email and password.
func (s *Store) Login(ctx context.Context, email, password string) (*domain.Account, error) {
	session, err := s.client.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	doc := s.loadDocument(ctx, session)
	s.logger.Info("user logged in", "id", session.Identity.ID)
	return s.signIn(session, doc), nil
}

// LoginWithProvider signs in through the simulated Google provider and
// writes the user document on first sign-in. Failures are reported as
// domain.ErrFederatedLogin.
func (s *Store) LoginWithProvider(ctx context.Context) (*domain.Account, error) {
	acc, err := s.federated(ctx)
	if err != nil {
		s.logger.Error("federated login failed", "error", err)
		return nil, domain.ErrFederatedLogin
	}
	s.logger.Info("user logged in", "id", acc.ID, "provider", acc.Provider)
	return acc, nil
}

func (s *Store) federated(ctx context.Context) (*domain.Account, error) {
	session, err := s.client.SignInFederated(ctx)
	if err != nil {
		return nil, err
	}
	if !session.IsNewUser {
		return s.signIn(session, s.loadDocument(ctx, session)), nil
	}

	identity := session.Identity
	username, _, _ := strings.Cut(identity.Email, "@")
	doc, err := s.client.PutDocument(ctx, session.Tokens.AccessToken, identity.ID, map[string]any{
		domain.FieldUsername:    username,
		domain.FieldEmail:       identity.Email,
		domain.FieldCreatedAt:   domain.FormatTimestamp(identity.CreatedAt),
		domain.FieldDisplayName: identity.DisplayName,
		docAuthProvider:         domain.ProviderGoogle,
	})
	if err != nil {
		return nil, err
	}
	return s.signIn(session, doc), nil
}

// Logout drops the session. It never fails.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.session = nil
	s.account = nil
	s.mu.Unlock()

	s.logger.Info("user logged out")
	s.notify(nil)
	return nil
}

// CurrentUser returns the signed-in account, or nil.
func (s *Store) CurrentUser(ctx context.Context) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account == nil {
		return nil, nil
	}
	return s.account.Public(), nil
}

// IsLoggedIn reports whether a session is held.
func (s *Store) IsLoggedIn(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil
}

// UpdateProfile sends displayName and photoURL to the identity profile and
// every other field to the user document, stamped with updatedAt. id, email,
// password, createdAt, updatedAt, provider and authProvider are ignored.
func (s *Store) UpdateProfile(ctx context.Context, fields map[string]any) (*domain.Account, error) {
	session, err := s.current()
	if err != nil {
		return nil, err
	}
	token := session.Tokens.AccessToken

	var update ProfileUpdate
	docFields := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		switch {
		case k == domain.FieldDisplayName || k == docPhotoURL:
			str, ok := v.(string)
			if !ok && v != nil {
				return nil, domain.NewValidationError(k, k+" must be a string")
			}
			if k == domain.FieldDisplayName {
				update.DisplayName = &str
			} else {
				update.PhotoURL = &str
			}
		case managedField(k):
			continue
		default:
			docFields[k] = v
		}
	}

	identity := session.Identity
	if update.DisplayName != nil || update.PhotoURL != nil {
		if identity, err = s.client.UpdateProfile(ctx, token, update); err != nil {
			return nil, err
		}
	}

	docFields[domain.FieldUpdatedAt] = domain.FormatTimestamp(s.clock.Now())
	doc, err := s.client.MergeDocument(ctx, token, identity.ID, docFields)
	if err != nil {
		return nil, err
	}

	s.logger.Info("profile updated", "id", identity.ID)
	return s.refresh(identity, doc, nil), nil
}

// ResetPassword asks the identity service to mail a reset link to email.
func (s *Store) ResetPassword(ctx context.Context, email string) error {
	return s.client.SendPasswordReset(ctx, email)
}

// ConfirmPasswordReset sets a new password from a mailed reset token.
func (s *Store) ConfirmPasswordReset(ctx context.Context, resetToken, newPassword string) error {
	return s.client.ConfirmPasswordReset(ctx, resetToken, newPassword)
}

// Profile returns the fields of a user's document. It fails with
// ErrProfileNotFound when the user has none.
func (s *Store) Profile(ctx context.Context, userID string) (map[string]any, error) {
	session, err := s.current()
	if err != nil {
		return nil, err
	}
	id, err := parseUserID(userID)
	if err != nil {
		return nil, err
	}

	doc, err := s.client.Document(ctx, session.Tokens.AccessToken, id)
	if err != nil {
		if errors.Is(err, domain.ErrDocumentNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return doc.Fields, nil
}

// ChangeEmail re-verifies the password, moves the identity to newEmail and
// records the new address in the user document.
func (s *Store) ChangeEmail(ctx context.Context, newEmail, password string) (*domain.Account, error) {
	session, err := s.reauthenticate(ctx, password)
	if err != nil {
		return nil, err
	}

	changed, err := s.client.ChangeEmail(ctx, session.Tokens.AccessToken, newEmail)
	if err != nil {
		return nil, err
	}
	doc, err := s.client.MergeDocument(ctx, changed.Tokens.AccessToken, changed.Identity.ID, map[string]any{
		domain.FieldEmail:     changed.Identity.Email,
		domain.FieldUpdatedAt: domain.FormatTimestamp(s.clock.Now()),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("email changed", "id", changed.Identity.ID)
	return s.refresh(changed.Identity, doc, changed.Tokens), nil
}

// ChangePassword re-verifies the current password and sets a new one.
func (s *Store) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	session, err := s.reauthenticate(ctx, currentPassword)
	if err != nil {
		return err
	}
	if err := s.client.ChangePassword(ctx, session.Tokens.AccessToken, newPassword); err != nil {
		return err
	}
	s.logger.Info("password changed", "id", session.Identity.ID)
	return nil
}

// DeleteAccount re-verifies the password, deletes the user document and then
// the identity, and ends the session.
func (s *Store) DeleteAccount(ctx context.Context, password string) error {
	session, err := s.reauthenticate(ctx, password)
	if err != nil {
		return err
	}
	token := session.Tokens.AccessToken

	if err := s.client.DeleteDocument(ctx, token, session.Identity.ID); err != nil {
		return err
	}
	if err := s.client.DeleteIdentity(ctx, token); err != nil {
		return err
	}

	s.logger.Info("account deleted", "id", session.Identity.ID)
	return s.Logout(ctx)
}

// OnAuthStateChanged registers fn to be called with the current account on
// every login and logout, and once right away. The returned function
// unregisters it.
func (s *Store) OnAuthStateChanged(fn func(*domain.Account)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	var current *domain.Account
	if s.account != nil {
		current = s.account.Public()
	}
	s.mu.Unlock()

	fn(current)
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// reauthenticate replays password for the signed-in identity and keeps the
// fresher token.
func (s *Store) reauthenticate(ctx context.Context, password string) (*Session, error) {
	session, err := s.current()
	if err != nil {
		return nil, err
	}
	fresh, err := s.client.Reauthenticate(ctx, session.Tokens.AccessToken, password)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.session != nil {
		s.session.Tokens = fresh.Tokens
	}
	s.mu.Unlock()
	return fresh, nil
}

func (s *Store) current() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, domain.ErrNotAuthenticated
	}
	snapshot := *s.session
	return &snapshot, nil
}

// loadDocument fetches the user document. A sign-in does not fail because
// the document is missing or unreadable.
func (s *Store) loadDocument(ctx context.Context, session *Session) *domain.Document {
	doc, err := s.client.Document(ctx, session.Tokens.AccessToken, session.Identity.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrDocumentNotFound) {
			s.logger.Warn("failed to load user document", "id", session.Identity.ID, "error", err)
		}
		return nil
	}
	return doc
}

func (s *Store) signIn(session *Session, doc *domain.Document) *domain.Account {
	acc := toAccount(session.Identity, doc)

	s.mu.Lock()
	s.session = session
	s.account = acc
	s.mu.Unlock()

	s.notify(acc.Public())
	return acc.Public()
}

// refresh replaces the cached identity, and the document fields and tokens
// when given.
func (s *Store) refresh(identity *domain.Identity, doc *domain.Document, tokens *domain.TokenPair) *domain.Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return toAccount(identity, doc).Public()
	}
	s.session.Identity = identity
	if tokens != nil {
		s.session.Tokens = tokens
	}

	acc := toAccount(identity, doc)
	if doc == nil && s.account != nil {
		acc = mergeCached(acc, s.account)
	}
	s.account = acc
	return acc.Public()
}

func (s *Store) notify(acc *domain.Account) {
	s.mu.Lock()
	fns := make([]func(*domain.Account), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(acc)
	}
}

// managedField reports whether the store, not the caller, owns field k.
func managedField(k string) bool {
	switch k {
	case domain.FieldID, domain.FieldEmail, domain.FieldPassword,
		domain.FieldCreatedAt, domain.FieldUpdatedAt, domain.FieldProvider,
		docAuthProvider:
		return true
	}
	return false
}

// toAccount builds the account view of an identity and its document. The
// identity is authoritative for id, email, createdAt and displayName.
func toAccount(identity *domain.Identity, doc *domain.Document) *domain.Account {
	username, _, _ := strings.Cut(identity.Email, "@")
	acc := &domain.Account{
		ID:          identity.ID.String(),
		Email:       identity.Email,
		Username:    username,
		DisplayName: identity.DisplayName,
		CreatedAt:   domain.FormatTimestamp(identity.CreatedAt),
	}
	if identity.Provider == domain.ProviderGoogle {
		acc.Provider = domain.ProviderGoogle
	}
	if identity.PhotoURL != "" {
		acc.Extra = map[string]any{docPhotoURL: identity.PhotoURL}
	}
	if doc == nil {
		return acc
	}

	for k, v := range doc.Fields {
		switch k {
		case domain.FieldUsername:
			if str, ok := v.(string); ok && str != "" {
				acc.Username = str
			}
		case domain.FieldUpdatedAt:
			if str, ok := v.(string); ok {
				acc.UpdatedAt = str
			}
		case domain.FieldID, domain.FieldEmail, domain.FieldPassword,
			domain.FieldCreatedAt, domain.FieldDisplayName, domain.FieldProvider,
			docAuthProvider:
			continue
		default:
			if acc.Extra == nil {
				acc.Extra = make(map[string]any)
			}
			acc.Extra[k] = v
		}
	}
	return acc
}

// mergeCached carries document-derived values of cached over to acc.
func mergeCached(acc, cached *domain.Account) *domain.Account {
	acc.Username = cached.Username
	acc.UpdatedAt = cached.UpdatedAt
	extra := maps.Clone(cached.Extra)
	if photo, ok := acc.Extra[docPhotoURL]; ok {
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[docPhotoURL] = photo
	}
	acc.Extra = extra
	return acc
}
