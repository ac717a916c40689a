package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/tendant/simple-accounts/internal/events"
	"github.com/tendant/simple-accounts/pkg/domain"
	"github.com/tendant/simple-accounts/pkg/repository"
)

// Mailer sends password reset links.
type Mailer interface {
	SendPasswordResetEmail(to, resetURL string) error
}

// IdentityConfig holds identity service configuration.
type IdentityConfig struct {
	StrictEmailValidation bool
	BlockDisposableEmail  bool
	// ResetURL is the page that completes a password reset. The token is
	// appended as the "token" query parameter.
	ResetURL string
	Clock    clock.Clock
	// HandleFunc draws the handle for a simulated provider sign-in.
	HandleFunc func() (string, error)
}

// Session is the result of presenting credentials.
type Session struct {
	Identity  *domain.Identity  `json:"identity"`
	Tokens    *domain.TokenPair `json:"tokens"`
	IsNewUser bool              `json:"isNewUser"`
}

// IdentityService handles sign-up, sign-in and account maintenance for the
// hosted identity API.
type IdentityService struct {
	config     IdentityConfig
	identities repository.IdentityRepository
	tokens     *TokenService
	policy     *PasswordPolicy
	events     events.Publisher
	mailer     Mailer
	clock      clock.Clock
	logger     *slog.Logger
}

// NewIdentityService creates a new identity service. A nil policy requires
// six characters, a nil publisher drops events, and a nil mailer disables
// password reset mail.
func NewIdentityService(
	config IdentityConfig,
	identities repository.IdentityRepository,
	tokens *TokenService,
	policy *PasswordPolicy,
	publisher events.Publisher,
	mailer Mailer,
	logger *slog.Logger,
) *IdentityService {
	if policy == nil {
		policy = &PasswordPolicy{MinLength: DefaultMinPasswordLength}
	}
	if publisher == nil {
		publisher = events.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.HandleFunc == nil {
		config.HandleFunc = domain.RandomHandle
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &IdentityService{
		config:     config,
		identities: identities,
		tokens:     tokens,
		policy:     policy,
		events:     publisher,
		mailer:     mailer,
		clock:      clk,
		logger:     logger,
	}
}

// Tokens returns the token service used to sign sessions.
func (s *IdentityService) Tokens() *TokenService {
	return s.tokens
}

// PasswordRequirements describes the password policy.
func (s *IdentityService) PasswordRequirements() string {
	return s.policy.Requirements()
}

// SignUp creates an email/password identity and signs it in.
func (s *IdentityService) SignUp(ctx context.Context, email, password string) (*Session, error) {
	if err := ValidateEmail(email, s.config.StrictEmailValidation, s.config.BlockDisposableEmail); err != nil {
		return nil, err
	}
	email = NormalizeEmail(email)

	if err := s.policy.ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	identity := &domain.Identity{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		Provider:     domain.ProviderPassword,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.identities.Create(ctx, identity); err != nil {
		return nil, err
	}

	s.logger.Info("identity created", "user_id", identity.ID, "provider", identity.Provider)
	s.publish(ctx, events.KeyUserRegistered, events.UserRegistered{
		UserID:    identity.ID.String(),
		Email:     identity.Email,
		Provider:  identity.Provider,
		CreatedAt: identity.CreatedAt,
	})

	return s.issue(identity, true)
}

// SignIn verifies an email and password.
func (s *IdentityService) SignIn(ctx context.Context, email, password string) (*Session, error) {
	identity, err := s.identities.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if !s.checkPassword(identity, password) {
		return nil, domain.ErrInvalidCredentials
	}
	return s.issue(identity, false)
}

// SignInFederated simulates a Google sign-in. The synthetic profile is
// derived from a random handle, so nearly every call creates a new identity.
func (s *IdentityService) SignInFederated(ctx context.Context) (*Session, error) {
	handle, err := s.config.HandleFunc()
	if err != nil {
		return nil, fmt.Errorf("draw provider handle: %w", err)
	}
	profile, err := domain.NewProviderProfile(handle)
	if err != nil {
		return nil, err
	}

	identity, err := s.identities.GetByEmail(ctx, profile.Email)
	if err == nil {
		return s.issue(identity, false)
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}

	now := s.now()
	identity = &domain.Identity{
		ID:          uuid.New(),
		Email:       profile.Email,
		DisplayName: profile.DisplayName,
		Provider:    domain.ProviderGoogle,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.identities.Create(ctx, identity); err != nil {
		return nil, err
	}

	s.logger.Info("identity created", "user_id", identity.ID, "provider", identity.Provider)
	s.publish(ctx, events.KeyUserRegistered, events.UserRegistered{
		UserID:    identity.ID.String(),
		Email:     identity.Email,
		Provider:  identity.Provider,
		CreatedAt: identity.CreatedAt,
	})

	return s.issue(identity, true)
}

// Reauthenticate checks the password of a signed-in identity and issues a
// session with a fresh auth time.
func (s *IdentityService) Reauthenticate(ctx context.Context, userID uuid.UUID, password string) (*Session, error) {
	identity, err := s.identities.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !s.checkPassword(identity, password) {
		return nil, domain.ErrInvalidCredentials
	}
	return s.issue(identity, false)
}

// Get returns the identity with the given ID.
func (s *IdentityService) Get(ctx context.Context, userID uuid.UUID) (*domain.Identity, error) {
	return s.identities.GetByID(ctx, userID)
}

// ProfileUpdate holds the identity profile fields to change. Nil fields are
// left as they are.
type ProfileUpdate struct {
	DisplayName *string `json:"displayName"`
	PhotoURL    *string `json:"photoURL"`
}

// UpdateProfile changes the display name and photo URL.
func (s *IdentityService) UpdateProfile(ctx context.Context, userID uuid.UUID, update ProfileUpdate) (*domain.Identity, error) {
	identity, err := s.identities.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if update.DisplayName != nil {
		name := SanitizeName(*update.DisplayName)
		if err := ValidateStringLength("displayName", name, 0, maxDisplayNameLength); err != nil {
			return nil, err
		}
		identity.DisplayName = name
	}
	if update.PhotoURL != nil {
		if err := validatePhotoURL(*update.PhotoURL); err != nil {
			return nil, err
		}
		identity.PhotoURL = *update.PhotoURL
	}

	identity.UpdatedAt = s.now()
	if err := s.identities.Update(ctx, identity); err != nil {
		return nil, err
	}
	return identity, nil
}

// ChangeEmail moves the identity to a new address. authTime must be within
// the reauthentication window.
func (s *IdentityService) ChangeEmail(ctx context.Context, userID uuid.UUID, authTime time.Time, newEmail string) (*domain.Identity, error) {
	if !s.tokens.IsRecentLogin(authTime) {
		return nil, domain.ErrRequiresRecentLogin
	}
	if err := ValidateEmail(newEmail, s.config.StrictEmailValidation, s.config.BlockDisposableEmail); err != nil {
		return nil, err
	}

	identity, err := s.identities.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	identity.Email = NormalizeEmail(newEmail)
	identity.UpdatedAt = s.now()
	if err := s.identities.Update(ctx, identity); err != nil {
		return nil, err
	}

	s.logger.Info("identity email changed", "user_id", identity.ID)
	return identity, nil
}

// ChangePassword sets a new password. authTime must be within the
// reauthentication window.
func (s *IdentityService) ChangePassword(ctx context.Context, userID uuid.UUID, authTime time.Time, newPassword string) error {
	if !s.tokens.IsRecentLogin(authTime) {
		return domain.ErrRequiresRecentLogin
	}
	if err := s.policy.ValidatePassword(newPassword); err != nil {
		return err
	}

	identity, err := s.identities.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.setPassword(ctx, identity, newPassword); err != nil {
		return err
	}

	s.logger.Info("identity password changed", "user_id", identity.ID)
	return nil
}

// Delete removes the identity. authTime must be within the reauthentication
// window.
func (s *IdentityService) Delete(ctx context.Context, userID uuid.UUID, authTime time.Time) error {
	if !s.tokens.IsRecentLogin(authTime) {
		return domain.ErrRequiresRecentLogin
	}

	identity, err := s.identities.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.identities.Delete(ctx, userID); err != nil {
		return err
	}

	s.logger.Info("identity deleted", "user_id", userID)
	s.publish(ctx, events.KeyUserDeleted, events.UserDeleted{
		UserID:    userID.String(),
		Email:     identity.Email,
		DeletedAt: s.now(),
	})
	return nil
}

// RequestPasswordReset mails a reset link to the identity registered under
// email.
func (s *IdentityService) RequestPasswordReset(ctx context.Context, email string) error {
	if err := ValidateEmail(email, false, false); err != nil {
		return err
	}

	identity, err := s.identities.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return err
	}

	token, err := s.tokens.IssueResetToken(identity)
	if err != nil {
		return err
	}

	if s.mailer == nil {
		s.logger.Warn("password reset requested but mail is not configured", "user_id", identity.ID)
		return nil
	}
	if err := s.mailer.SendPasswordResetEmail(identity.Email, s.resetLink(token)); err != nil {
		return fmt.Errorf("send password reset email: %w", err)
	}

	s.logger.Info("password reset mail sent", "user_id", identity.ID)
	return nil
}

// ConfirmPasswordReset sets a new password from a reset token. A token works
// once: changing the password invalidates it.
func (s *IdentityService) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	userID, stamp, err := s.tokens.ValidateResetToken(token)
	if err != nil {
		return err
	}
	if err := s.policy.ValidatePassword(newPassword); err != nil {
		return err
	}

	identity, err := s.identities.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.ErrInvalidToken
		}
		return err
	}
	if !MatchesResetStamp(identity, stamp) {
		return domain.ErrInvalidToken
	}

	if err := s.setPassword(ctx, identity, newPassword); err != nil {
		return err
	}

	s.logger.Info("password reset completed", "user_id", identity.ID)
	s.publish(ctx, events.KeyPasswordReset, events.PasswordReset{UserID: identity.ID.String(), At: identity.UpdatedAt})
	return nil
}

func (s *IdentityService) setPassword(ctx context.Context, identity *domain.Identity, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	identity.PasswordHash = hash
	identity.UpdatedAt = s.now()
	return s.identities.Update(ctx, identity)
}

func (s *IdentityService) checkPassword(identity *domain.Identity, password string) bool {
	return identity.HasPassword() && VerifyPassword(password, identity.PasswordHash)
}

func (s *IdentityService) issue(identity *domain.Identity, isNew bool) (*Session, error) {
	tokens, err := s.tokens.Issue(identity, s.clock.Now())
	if err != nil {
		return nil, err
	}
	return &Session{Identity: identity, Tokens: tokens, IsNewUser: isNew}, nil
}

func (s *IdentityService) resetLink(token string) string {
	return s.config.ResetURL + "?token=" + url.QueryEscape(token)
}

func (s *IdentityService) publish(ctx context.Context, key string, event any) {
	if err := s.events.Publish(ctx, key, event); err != nil {
		s.logger.Warn("failed to publish event", "key", key, "error", err)
	}
}

// now is truncated to milliseconds, the precision documents are stored with.
func (s *IdentityService) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Millisecond)
}

func validatePhotoURL(raw string) error {
	if raw == "" {
		return nil
	}
	if err := ValidateStringLength("photoURL", raw, 0, maxPhotoURLLength); err != nil {
		return err
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return domain.NewValidationError("photoURL", "photoURL must be an http or https URL")
	}
	return nil
}
