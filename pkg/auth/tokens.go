package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tendant/simple-accounts/pkg/domain"
)

const (
	// Default token lifetimes
	DefaultAccessTokenTTL = time.Hour
	DefaultResetTokenTTL  = time.Hour

	// DefaultReauthWindow is how long after a sign-in sensitive operations
	// are allowed without signing in again.
	DefaultReauthWindow = 5 * time.Minute

	audienceAccess = "access"
	audienceReset  = "password-reset"
)

// TokenConfig holds token configuration.
type TokenConfig struct {
	JWTSecret      []byte
	Issuer         string
	AccessTokenTTL time.Duration
	ResetTokenTTL  time.Duration
	ReauthWindow   time.Duration
	Clock          clock.Clock
}

// AccessTokenClaims represents the claims in an access token.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Provider string `json:"provider,omitempty"`
	// AuthTime is when the user last presented credentials, in Unix seconds.
	AuthTime int64 `json:"auth_time"`
}

// UserID returns the subject as a UUID.
func (c *AccessTokenClaims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// AuthenticatedAt returns the auth_time claim.
func (c *AccessTokenClaims) AuthenticatedAt() time.Time {
	return time.Unix(c.AuthTime, 0)
}

type resetTokenClaims struct {
	jwt.RegisteredClaims
	// Stamp binds the token to the password hash it was issued against.
	Stamp string `json:"stamp"`
}

// TokenService issues and validates access and password reset tokens.
type TokenService struct {
	config TokenConfig
	clock  clock.Clock
}

// NewTokenService creates a new token service.
func NewTokenService(config TokenConfig) *TokenService {
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if config.ResetTokenTTL == 0 {
		config.ResetTokenTTL = DefaultResetTokenTTL
	}
	if config.ReauthWindow == 0 {
		config.ReauthWindow = DefaultReauthWindow
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &TokenService{config: config, clock: clk}
}

// AccessTokenTTL returns the access token TTL.
func (s *TokenService) AccessTokenTTL() time.Duration {
	return s.config.AccessTokenTTL
}

// Issue signs an access token for identity. authTime is when the identity
// last presented credentials.
func (s *TokenService) Issue(identity *domain.Identity, authTime time.Time) (*domain.TokenPair, error) {
	now := s.clock.Now()
	expiresAt := now.Add(s.config.AccessTokenTTL)

	claims := AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID.String(),
			Issuer:    s.config.Issuer,
			Audience:  jwt.ClaimStrings{audienceAccess},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
		Email:    identity.Email,
		Name:     identity.DisplayName,
		Provider: identity.Provider,
		AuthTime: authTime.Unix(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.config.JWTSecret)
	if err != nil {
		return nil, err
	}

	return &domain.TokenPair{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.config.AccessTokenTTL.Seconds()),
		ExpiresAt:   expiresAt,
	}, nil
}

// ValidateAccessToken validates an access token and returns the claims.
func (s *TokenService) ValidateAccessToken(tokenString string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	if err := s.parse(tokenString, claims, audienceAccess); err != nil {
		return nil, err
	}
	if _, err := claims.UserID(); err != nil {
		return nil, domain.ErrInvalidToken
	}
	return claims, nil
}

// IsRecentLogin reports whether authTime falls inside the reauthentication
// window.
func (s *TokenService) IsRecentLogin(authTime time.Time) bool {
	return s.clock.Since(authTime) <= s.config.ReauthWindow
}

// IssueResetToken signs a password reset token for identity. The token stops
// validating once the identity's password changes.
func (s *TokenService) IssueResetToken(identity *domain.Identity) (string, error) {
	now := s.clock.Now()
	claims := resetTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID.String(),
			Issuer:    s.config.Issuer,
			Audience:  jwt.ClaimStrings{audienceReset},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.ResetTokenTTL)),
		},
		Stamp: resetStamp(identity),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.config.JWTSecret)
}

// ValidateResetToken checks a reset token's signature and expiry and returns
// the subject and stamp. Callers compare the stamp with MatchesResetStamp.
func (s *TokenService) ValidateResetToken(tokenString string) (uuid.UUID, string, error) {
	claims := &resetTokenClaims{}
	if err := s.parse(tokenString, claims, audienceReset); err != nil {
		return uuid.Nil, "", err
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, "", domain.ErrInvalidToken
	}
	return userID, claims.Stamp, nil
}

// MatchesResetStamp reports whether stamp was issued against identity's
// current password.
func MatchesResetStamp(identity *domain.Identity, stamp string) bool {
	return constantTimeCompare([]byte(resetStamp(identity)), []byte(stamp))
}

func resetStamp(identity *domain.Identity) string {
	return HashToken(identity.ID.String() + "|" + identity.PasswordHash)
}

func (s *TokenService) parse(tokenString string, claims jwt.Claims, audience string) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidToken
		}
		return s.config.JWTSecret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fmt.Errorf("%w: token has expired", domain.ErrInvalidToken)
		}
		return domain.ErrInvalidToken
	}
	if !token.Valid {
		return domain.ErrInvalidToken
	}
	return nil
}
