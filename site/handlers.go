package site

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/tendant/simple-accounts/internal/httputil"
	"github.com/tendant/simple-accounts/pkg/accounts"
	"github.com/tendant/simple-accounts/pkg/domain"
	"github.com/tendant/simple-accounts/pkg/hosted"
	"github.com/tendant/simple-accounts/pkg/validation"
)

// Messages and redirect shown by the register page after a successful
// registration.
const (
	RegisterSuccessMessage = "Registration successful! Redirecting to the home page..."
	RegisterRedirect       = "/index.html"
	RegisterRedirectDelay  = 2000
)

type handler struct {
	stores    StoreProvider
	validator *validation.Validator
	logger    *slog.Logger
}

// RegisterResponse is returned by a successful registration.
type RegisterResponse struct {
	Message         string          `json:"message"`
	Redirect        string          `json:"redirect"`
	RedirectAfterMs int             `json:"redirectAfterMs"`
	User            *domain.Account `json:"user"`
}

// FieldErrorsResponse is returned when the registration form is invalid.
type FieldErrorsResponse struct {
	Error  string            `json:"error"`
	Fields validation.Result `json:"fields"`
}

// UserResponse carries the current account, which is null when logged out.
type UserResponse struct {
	Message  string          `json:"message,omitempty"`
	User     *domain.Account `json:"user"`
	LoggedIn bool            `json:"loggedIn"`
}

// LoginRequest is the login form.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register validates the registration form and creates the account.
// POST /register
func (h *handler) Register(w http.ResponseWriter, r *http.Request) {
	var form validation.RegistrationForm
	if err := httputil.DecodeJSON(r, &form); err != nil {
		h.badRequest(w, err)
		return
	}

	result := h.validator.Validate(form)
	if !result.Valid() {
		httputil.JSON(w, http.StatusUnprocessableEntity, FieldErrorsResponse{
			Error:  "please correct the highlighted fields",
			Fields: result,
		})
		return
	}

	form = form.Normalize()
	acc, err := h.store(r).Register(r.Context(), form.Email, form.Password, form.AccountName, nil)
	if err != nil {
		h.writeError(w, err)
		return
	}

	httputil.JSON(w, http.StatusCreated, RegisterResponse{
		Message:         RegisterSuccessMessage,
		Redirect:        RegisterRedirect,
		RedirectAfterMs: RegisterRedirectDelay,
		User:            acc,
	})
}

// Login signs the visitor in with email and password.
// POST /login
func (h *handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.badRequest(w, err)
		return
	}

	acc, err := h.store(r).Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, UserResponse{Message: "Login successful!", User: acc, LoggedIn: true})
}

// LoginWithGoogle signs the visitor in with the simulated Google provider.
// POST /login/google
func (h *handler) LoginWithGoogle(w http.ResponseWriter, r *http.Request) {
	acc, err := h.store(r).LoginWithProvider(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, UserResponse{Message: "Login successful!", User: acc, LoggedIn: true})
}

// Logout ends the visitor's session.
// POST /logout
func (h *handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.store(r).Logout(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the visitor's account.
// GET /me
func (h *handler) Me(w http.ResponseWriter, r *http.Request) {
	acc, err := h.store(r).CurrentUser(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, UserResponse{User: acc, LoggedIn: acc != nil})
}

// UpdateMe merges the body's fields into the visitor's account.
// PATCH /me
func (h *handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var fields map[string]any
	if err := httputil.DecodeJSON(r, &fields); err != nil {
		h.badRequest(w, err)
		return
	}

	acc, err := h.store(r).UpdateProfile(r.Context(), fields)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, UserResponse{Message: "Profile updated", User: acc, LoggedIn: true})
}

func (h *handler) store(r *http.Request) accounts.AccountStore {
	return h.stores.Store(visitorID(r.Context()))
}

func (h *handler) badRequest(w http.ResponseWriter, err error) {
	if errors.Is(err, httputil.ErrBodyTooLarge) {
		httputil.Error(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	httputil.Error(w, http.StatusBadRequest, err.Error())
}

// writeError answers with the store's message and a status for its kind.
func (h *handler) writeError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("account operation failed", "error", err)
		httputil.Error(w, status, "something went wrong, please try again later")
		return
	}
	httputil.Error(w, status, err.Error())
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidEmail),
		errors.Is(err, domain.ErrWeakPassword):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrDuplicateEmail):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidCredentials),
		errors.Is(err, domain.ErrNotAuthenticated),
		errors.Is(err, domain.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrRequiresRecentLogin),
		errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrFederatedLogin):
		return http.StatusBadGateway
	}

	var perr *hosted.ProviderError
	if errors.As(err, &perr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
