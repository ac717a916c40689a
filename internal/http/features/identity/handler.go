package identity

import (
	"log/slog"
	"net/http"

	"github.com/tendant/simple-accounts/internal/http/features/common"
	"github.com/tendant/simple-accounts/internal/http/middleware"
	"github.com/tendant/simple-accounts/internal/httputil"
	"github.com/tendant/simple-accounts/pkg/auth"
	"github.com/tendant/simple-accounts/pkg/domain"
)

// Handler handles identity endpoints.
type Handler struct {
	logger       *slog.Logger
	service      *auth.IdentityService
	cookieConfig httputil.CookieConfig
}

// NewHandler creates a new identity handler.
func NewHandler(logger *slog.Logger, service *auth.IdentityService, cookieSecure bool) *Handler {
	cookieConfig := httputil.DefaultCookieConfig()
	cookieConfig.Secure = cookieSecure
	return &Handler{
		logger:       logger,
		service:      service,
		cookieConfig: cookieConfig,
	}
}

// CredentialsRequest carries an email/password pair.
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// PasswordRequest carries a single password.
type PasswordRequest struct {
	Password string `json:"password"`
}

// EmailRequest carries a new email address.
type EmailRequest struct {
	Email string `json:"email"`
}

// ResetRequest asks for a password reset link.
type ResetRequest struct {
	Email string `json:"email"`
}

// ConfirmResetRequest completes a password reset.
type ConfirmResetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// IdentityResponse wraps an identity and, when they changed, fresh tokens.
type IdentityResponse struct {
	Identity *domain.Identity  `json:"identity"`
	Tokens   *domain.TokenPair `json:"tokens,omitempty"`
}

// SignUp creates an identity.
// POST /v1/identity/signup
func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		common.BadRequest(w, err)
		return
	}

	session, err := h.service.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		common.WriteError(w, h.logger, err)
		return
	}
	h.writeSession(w, r, http.StatusCreated, session)
}

// SignIn verifies an email/password pair.
// POST /v1/identity/signin
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		common.BadRequest(w, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		common.BadRequest(w, domain.NewValidationError("email", "email and password are required"))
		return
	}

	session, err := h.service.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		common.WriteError(w, h.logger, err)
		return
	}
	h.writeSession(w, r, http.StatusOK, session)
}

// SignInFederated signs in with the simulated provider.
// POST /v1/identity/federated
func (h *Handler) SignInFederated(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.SignInFederated(r.Context())
	if err != nil {
		common.WriteError(w, h.logger, err)
		return
	}
	status := http.StatusOK
	if session.IsNewUser {
		status = http.StatusCreated
	}
	h.writeSession(w, r, status, session)
}

// SignOut clears the access token cookie. Bearer tokens stay valid until
// they expire.
// POST /v1/identity/signout
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	httputil.ClearCookie(w, httputil.AccessTokenCookie, h.cookieConfig)
	w.WriteHeader(http.StatusNoContent)
}

// Get returns the signed-in identity.
// GET /v1/identity
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		common.WriteError(w, h.logger, domain.ErrNotAuthenticated)
		return
	}

	identity, err := h.service.Get(r.Context(), userID)
	if err != nil {
		common.WriteError(w, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, IdentityResponse{Identity: identity})
}

// Reauthenticate replays the password and returns tokens with a fresh
// auth_time.
// POST /v1/identity/reauth
func (h *Handler) Reauthenticate(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		common.WriteError(w, h.logger, domain.ErrNotAuthenticated)
		return
	}

	var req PasswordRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		common.BadRequest(w, err)
		return
	}

	session, err := h.service.Reauthenticate(r.Context(), userID, req.Password)
	if err != nil {
		common.WriteError(w, h.logger, err)
		return
	}
	h.writeSession(w, r, http.StatusOK, session)
}

// UpdateProfile changes the display name and photo URL.
// PATCH /v1/identity/profile
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		common.WriteError(w, h.logger, domain.ErrNotAuthenticated)
		return
	}

	var req auth.ProfileUpdate
	if err := httputil.DecodeJSON(r, &req); err != nil {
		common.BadRequest(w, err)
		return
	}

	identity, err := h.service.UpdateProfile(r.Context(), userID, req)
	if err != nil {
		common.WriteError(w, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, IdentityResponse{Identity: identity})
}

// ChangeEmail moves the identity to a new address. The response carries a
// token with the new email and the original auth_time.
// PUT /v1/identity/email
func (h *Handler) ChangeEmail(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaims(r.Context())
	if !ok {
		common.WriteError(w, h.logger, domain.ErrNotAuthenticated)
		return
	}
	userID, _ := middleware.GetUserID(r.Context())

	var req EmailRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		common.BadRequest(w, err)
		return
	}

	identity, err := h.service.ChangeEmail(r.Context(), userID, claims.AuthenticatedAt(), req.Email)
	if err != nil {
		common.WriteError(w, h.logger, err)
		return
	}

	tokens, err := h.service.Tokens().Issue(identity, claims.AuthenticatedAt())
	if err != nil {
		common.WriteError(w, h.logger, err)
		return
	}
	h.setTokenCookie(w, r, tokens)
	httputil.JSON(w, http.StatusOK, IdentityResponse{Identity: identity, Tokens: tokens})
}

// ChangePassword sets a new password.
// PUT /v1/identity/password
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaims(r.Context())
	if !ok {
		common.WriteError(w, h.logger, domain.ErrNotAuthenticated)
		return
	}
	userID, _ := middleware.GetUserID(r.Context())

	var req PasswordRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		common.BadRequest(w, err)
		return
	}

	if err := h.service.ChangePassword(r.Context(), userID, claims.AuthenticatedAt(), req.Password); err != nil {
		common.WriteError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete removes the identity.
// DELETE /v1/identity
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaims(r.Context())
	if !ok {
		common.WriteError(w, h.logger, domain.ErrNotAuthenticated)
		return
	}
	userID, _ := middleware.GetUserID(r.Context())

	if err := h.service.Delete(r.Context(), userID, claims.AuthenticatedAt()); err != nil {
		common.WriteError(w, h.logger, err)
		return
	}
	httputil.ClearCookie(w, httputil.AccessTokenCookie, h.cookieConfig)
	w.WriteHeader(http.StatusNoContent)
}

// RequestPasswordReset mails a reset link.
// POST /v1/identity/password-reset
func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		common.BadRequest(w, err)
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), req.Email); err != nil {
		common.WriteError(w, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusAccepted, map[string]string{"message": "password reset email sent"})
}

// ConfirmPasswordReset sets the password named by a reset token.
// POST /v1/identity/password-reset/confirm
func (h *Handler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req ConfirmResetRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		common.BadRequest(w, err)
		return
	}
	if req.Token == "" {
		common.WriteError(w, h.logger, domain.ErrInvalidToken)
		return
	}

	if err := h.service.ConfirmPasswordReset(r.Context(), req.Token, req.Password); err != nil {
		common.WriteError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PasswordPolicy describes the password requirements.
// GET /v1/identity/password-policy
func (h *Handler) PasswordPolicy(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{"requirements": h.service.PasswordRequirements()})
}

func (h *Handler) writeSession(w http.ResponseWriter, r *http.Request, status int, session *auth.Session) {
	h.setTokenCookie(w, r, session.Tokens)
	httputil.JSON(w, status, session)
}

// setTokenCookie mirrors the access token into a cookie for web clients.
func (h *Handler) setTokenCookie(w http.ResponseWriter, r *http.Request, tokens *domain.TokenPair) {
	if !httputil.IsWebClient(r) {
		return
	}
	httputil.SetCookie(w, httputil.AccessTokenCookie, tokens.AccessToken,
		h.service.Tokens().AccessTokenTTL(), h.cookieConfig)
}
