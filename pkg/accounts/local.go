package accounts

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/tendant/simple-accounts/pkg/async"
	"github.com/tendant/simple-accounts/pkg/checksum"
	"github.com/tendant/simple-accounts/pkg/domain"
	"github.com/tendant/simple-accounts/pkg/storage"
)

// MinPasswordLength is the shortest password Register accepts.
const MinPasswordLength = 6

// Delays are the artificial latencies applied before each operation runs.
type Delays struct {
	Register  time.Duration
	Login     time.Duration
	Federated time.Duration
	Logout    time.Duration
	Update    time.Duration
}

// DefaultDelays returns the latencies the site has always used.
func DefaultDelays() Delays {
	return Delays{
		Register:  800 * time.Millisecond,
		Login:     800 * time.Millisecond,
		Federated: 1200 * time.Millisecond,
		Logout:    300 * time.Millisecond,
		Update:    600 * time.Millisecond,
	}
}

// Config configures a LocalStore.
type Config struct {
	// Store persists records and the session (required).
	Store storage.Store

	// Clock schedules the delayed operations (default: the wall clock).
	Clock clock.Clock

	// Delays overrides DefaultDelays. A pointer to a zero Delays runs every
	// operation immediately.
	Delays *Delays

	// Salt overrides checksum.DefaultSalt.
	Salt string

	// HandleFunc generates the random handle used by LoginWithProvider.
	HandleFunc func() (string, error)

	// NewID generates record identifiers (default: uuid.NewString).
	NewID func() string

	// Locker serialises operation bodies. Stores that share one record set,
	// such as one store per site visitor, must share a Locker (default: a
	// mutex owned by the store).
	Locker sync.Locker

	// Logger is the structured logger (default: slog.Default()).
	Logger *slog.Logger
}

// LocalStore is the AccountStore backed by a storage.Store. Each operation
// reads the full record set, changes it in memory and writes it back while
// holding the store's mutex.
type LocalStore struct {
	mu     sync.Locker
	store  storage.Store
	clk    clock.Clock
	delays Delays
	salt   string
	handle func() (string, error)
	newID  func() string
	logger *slog.Logger
}

var _ AccountStore = (*LocalStore)(nil)

// NewLocalStore creates a local account store.
func NewLocalStore(cfg Config) *LocalStore {
	s := &LocalStore{
		mu:     cfg.Locker,
		store:  cfg.Store,
		clk:    cfg.Clock,
		delays: DefaultDelays(),
		salt:   cfg.Salt,
		handle: cfg.HandleFunc,
		newID:  cfg.NewID,
		logger: cfg.Logger,
	}
	if s.mu == nil {
		s.mu = &sync.Mutex{}
	}
	if s.clk == nil {
		s.clk = clock.New()
	}
	if cfg.Delays != nil {
		s.delays = *cfg.Delays
	}
	if s.salt == "" {
		s.salt = checksum.DefaultSalt
	}
	if s.handle == nil {
		s.handle = domain.RandomHandle
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// RegisterAsync schedules Register. The operation runs to completion even if
// ctx is cancelled while it is pending.
func (s *LocalStore) RegisterAsync(ctx context.Context, email, password, username string, extra map[string]any) *async.Task[*domain.Account] {
	ctx = context.WithoutCancel(ctx)
	return async.Schedule(s.clk, s.delays.Register, func() (*domain.Account, error) {
		return s.register(ctx, email, password, username, extra)
	})
}

// Register creates an account and logs it in. The username defaults to the
// local part of the email.
func (s *LocalStore) Register(ctx context.Context, email, password, username string, extra map[string]any) (*domain.Account, error) {
	return s.RegisterAsync(ctx, email, password, username, extra).Await(ctx)
}

// LoginAsync schedules Login.
func (s *LocalStore) LoginAsync(ctx context.Context, email, password string) *async.Task[*domain.Account] {
	ctx = context.WithoutCancel(ctx)
	return async.Schedule(s.clk, s.delays.Login, func() (*domain.Account, error) {
		return s.login(ctx, email, password)
	})
}

// Login verifies the credentials and makes the account the current session.
func (s *LocalStore) Login(ctx context.Context, email, password string) (*domain.Account, error) {
	return s.LoginAsync(ctx, email, password).Await(ctx)
}

// LoginWithProviderAsync schedules LoginWithProvider.
func (s *LocalStore) LoginWithProviderAsync(ctx context.Context) *async.Task[*domain.Account] {
	ctx = context.WithoutCancel(ctx)
	return async.Schedule(s.clk, s.delays.Federated, func() (*domain.Account, error) {
		return s.loginWithProvider(ctx)
	})
}

// LoginWithProvider simulates a Google sign-in with a synthesized account.
func (s *LocalStore) LoginWithProvider(ctx context.Context) (*domain.Account, error) {
	return s.LoginWithProviderAsync(ctx).Await(ctx)
}

// LogoutAsync schedules Logout.
func (s *LocalStore) LogoutAsync(ctx context.Context) *async.Task[struct{}] {
	ctx = context.WithoutCancel(ctx)
	return async.Schedule(s.clk, s.delays.Logout, func() (struct{}, error) {
		s.logout(ctx)
		return struct{}{}, nil
	})
}

// Logout clears the session.
func (s *LocalStore) Logout(ctx context.Context) error {
	_, err := s.LogoutAsync(ctx).Await(ctx)
	return err
}

// UpdateProfileAsync schedules UpdateProfile.
func (s *LocalStore) UpdateProfileAsync(ctx context.Context, fields map[string]any) *async.Task[*domain.Account] {
	ctx = context.WithoutCancel(ctx)
	return async.Schedule(s.clk, s.delays.Update, func() (*domain.Account, error) {
		return s.updateProfile(ctx, fields)
	})
}

// UpdateProfile merges fields into the current user's record. id, email,
// password, createdAt and updatedAt cannot be changed this way and are
// silently ignored.
func (s *LocalStore) UpdateProfile(ctx context.Context, fields map[string]any) (*domain.Account, error) {
	return s.UpdateProfileAsync(ctx, fields).Await(ctx)
}

// CurrentUser returns the session account, or nil when nobody is logged in.
func (s *LocalStore) CurrentUser(ctx context.Context) (*domain.Account, error) {
	return s.store.LoadSession(ctx)
}

// IsLoggedIn reports whether a session is present.
func (s *LocalStore) IsLoggedIn(ctx context.Context) bool {
	acc, err := s.CurrentUser(ctx)
	return err == nil && acc != nil
}

func (s *LocalStore) register(ctx context.Context, email, password, username string, extra map[string]any) (*domain.Account, error) {
	if email == "" || password == "" {
		field := domain.FieldEmail
		if email != "" {
			field = domain.FieldPassword
		}
		return nil, domain.NewValidationError(field, "email and password must not be empty")
	}
	if domain.TextLength(password) < MinPasswordLength {
		return nil, domain.NewValidationError(domain.FieldPassword,
			fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	if findByEmail(accounts, email) >= 0 {
		return nil, domain.ErrDuplicateEmail
	}

	if username == "" {
		username, _, _ = strings.Cut(email, "@")
	}

	acc := domain.Account{
		ID:        s.newID(),
		Email:     email,
		Password:  checksum.SumWithSalt(password, s.salt),
		Username:  username,
		CreatedAt: s.timestamp(),
	}
	if err := applyFields(&acc, extra); err != nil {
		return nil, err
	}

	accounts = append(accounts, acc)
	if err := s.store.Save(ctx, accounts); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	if err := s.store.SaveSession(ctx, &acc); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	s.logger.Info("account registered", "id", acc.ID, "email", acc.Email)
	return acc.Public(), nil
}

func (s *LocalStore) login(ctx context.Context, email, password string) (*domain.Account, error) {
	if email == "" || password == "" {
		field := domain.FieldEmail
		if email != "" {
			field = domain.FieldPassword
		}
		return nil, domain.NewValidationError(field, "email and password must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	idx := findByEmail(accounts, email)
	if idx < 0 {
		return nil, domain.ErrUserNotFound
	}
	acc := accounts[idx]

	// Federated records have no checksum and cannot log in with a password.
	if acc.Password == "" || acc.Password != checksum.SumWithSalt(password, s.salt) {
		s.logger.Warn("login failed", "email", email, "reason", "invalid_credentials")
		return nil, domain.ErrInvalidCredentials
	}

	if err := s.store.SaveSession(ctx, &acc); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	s.logger.Info("user logged in", "id", acc.ID)
	return acc.Public(), nil
}

func (s *LocalStore) loginWithProvider(ctx context.Context) (*domain.Account, error) {
	acc, err := s.federated(ctx)
	if err != nil {
		s.logger.Error("federated login failed", "error", err)
		return nil, domain.ErrFederatedLogin
	}
	s.logger.Info("user logged in", "id", acc.ID, "provider", acc.Provider)
	return acc, nil
}

func (s *LocalStore) federated(ctx context.Context) (*domain.Account, error) {
	handle, err := s.handle()
	if err != nil {
		return nil, err
	}
	profile, err := domain.NewProviderProfile(handle)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	var acc domain.Account
	if idx := findByEmail(accounts, profile.Email); idx >= 0 {
		acc = accounts[idx]
	} else {
		acc = domain.Account{
			ID:          s.newID(),
			Email:       profile.Email,
			Username:    profile.Username,
			CreatedAt:   s.timestamp(),
			Provider:    domain.ProviderGoogle,
			DisplayName: profile.DisplayName,
		}
		accounts = append(accounts, acc)
		if err := s.store.Save(ctx, accounts); err != nil {
			return nil, err
		}
	}

	if err := s.store.SaveSession(ctx, &acc); err != nil {
		return nil, err
	}
	return acc.Public(), nil
}

func (s *LocalStore) logout(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.SaveSession(ctx, nil); err != nil {
		s.logger.Warn("failed to clear session", "error", err)
		return
	}
	s.logger.Info("user logged out")
}

func (s *LocalStore) updateProfile(ctx context.Context, fields map[string]any) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.store.LoadSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	if session == nil {
		return nil, domain.ErrNotAuthenticated
	}

	accounts, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}

	// No operation removes records, but a session can outlive its record if
	// the users slot is edited underneath it.
	idx := slices.IndexFunc(accounts, func(a domain.Account) bool { return a.ID == session.ID })
	if idx < 0 {
		return nil, domain.ErrUserNotFound
	}

	updated := accounts[idx].Clone()
	if err := applyFields(&updated, fields); err != nil {
		return nil, err
	}
	updated.UpdatedAt = s.timestamp()

	accounts[idx] = updated
	if err := s.store.Save(ctx, accounts); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	if err := s.store.SaveSession(ctx, &updated); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}

	s.logger.Info("profile updated", "id", updated.ID)
	return updated.Public(), nil
}

func (s *LocalStore) timestamp() string {
	return domain.FormatTimestamp(s.clk.Now())
}

func findByEmail(accounts []domain.Account, email string) int {
	return slices.IndexFunc(accounts, func(a domain.Account) bool { return a.Email == email })
}

// applyFields merges caller-supplied fields into acc. Fields that identify
// the record or are managed by the store are skipped.
func applyFields(acc *domain.Account, fields map[string]any) error {
	for key, value := range fields {
		var dst *string
		switch key {
		case domain.FieldID, domain.FieldEmail, domain.FieldPassword,
			domain.FieldCreatedAt, domain.FieldUpdatedAt:
			continue
		case domain.FieldUsername:
			dst = &acc.Username
		case domain.FieldDisplayName:
			dst = &acc.DisplayName
		case domain.FieldProvider:
			dst = &acc.Provider
		default:
			if acc.Extra == nil {
				acc.Extra = make(map[string]any)
			}
			acc.Extra[key] = value
			continue
		}

		switch v := value.(type) {
		case nil:
			*dst = ""
		case string:
			*dst = v
		default:
			return domain.NewValidationError(key, key+" must be a string")
		}
	}
	return nil
}
