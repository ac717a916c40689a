package http

import (
	"log/slog"
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tendant/simple-accounts/internal/config"
	"github.com/tendant/simple-accounts/internal/http/features/documents"
	"github.com/tendant/simple-accounts/internal/http/features/identity"
	"github.com/tendant/simple-accounts/internal/http/middleware"
	"github.com/tendant/simple-accounts/internal/httputil"
	"github.com/tendant/simple-accounts/pkg/auth"
	"github.com/tendant/simple-accounts/pkg/repository"
)

const defaultMaxRequestBodySize = 1 << 20

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger          *slog.Logger
	IdentityService *auth.IdentityService
	Documents       repository.DocumentRepository
	Registry        *prometheus.Registry // nil disables /metrics
	Clock           clock.Clock
	RateLimitConfig config.RateLimitConfig
	SecurityHeaders config.SecurityHeadersConfig
	Validation      config.ValidationConfig
	CookieSecure    bool
}

// NewRouter creates a new HTTP router with all routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Validation.MaxRequestBodySize <= 0 {
		cfg.Validation.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	r := chi.NewRouter()

	// Apply global middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))
	if cfg.Registry != nil {
		r.Use(middleware.NewMetrics(cfg.Registry).Instrument)
	}
	r.Use(middleware.SecurityHeaders(cfg.SecurityHeaders))
	r.Use(middleware.RequestSizeLimit(cfg.Validation.MaxRequestBodySize))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	// Create rate limiters for different endpoint types
	rateLimiters := middleware.CreateRateLimiters(cfg.RateLimitConfig, cfg.Logger)
	requireAuth := middleware.Auth(cfg.IdentityService.Tokens())

	identityHandler := identity.NewHandler(cfg.Logger, cfg.IdentityService, cfg.CookieSecure)
	r.Group(func(r chi.Router) {
		r.Use(rateLimiters[middleware.LimitAuth])
		r.Post("/v1/identity/signup", identityHandler.SignUp)
		r.Post("/v1/identity/signin", identityHandler.SignIn)
		r.Post("/v1/identity/federated", identityHandler.SignInFederated)
	})
	r.Post("/v1/identity/signout", identityHandler.SignOut)
	r.Get("/v1/identity/password-policy", identityHandler.PasswordPolicy)
	r.Group(func(r chi.Router) {
		r.Use(rateLimiters[middleware.LimitReset])
		r.Post("/v1/identity/password-reset", identityHandler.RequestPasswordReset)
		r.Post("/v1/identity/password-reset/confirm", identityHandler.ConfirmPasswordReset)
	})
	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Use(rateLimiters[middleware.LimitReauth])
		r.Post("/v1/identity/reauth", identityHandler.Reauthenticate)
	})
	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Use(rateLimiters[middleware.LimitProfile])
		r.Get("/v1/identity", identityHandler.Get)
		r.Delete("/v1/identity", identityHandler.Delete)
		r.Patch("/v1/identity/profile", identityHandler.UpdateProfile)
		r.Put("/v1/identity/email", identityHandler.ChangeEmail)
		r.Put("/v1/identity/password", identityHandler.ChangePassword)
	})

	documentsHandler := documents.NewHandler(cfg.Logger, cfg.Documents, cfg.Clock)
	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Use(rateLimiters[middleware.LimitDocuments])
		r.Get("/v1/documents/users/{id}", documentsHandler.Get)
		r.Put("/v1/documents/users/{id}", documentsHandler.Put)
		r.Patch("/v1/documents/users/{id}", documentsHandler.Merge)
		r.Delete("/v1/documents/users/{id}", documentsHandler.Delete)
	})

	return r
}
