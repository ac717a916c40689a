// Package site serves the account API behind the personal site's register,
// login and profile pages.
//
// Every browser gets a visitor cookie and its own account session, backed by
// either the local store or the hosted services.
//
// Local store:
//
//	base := storage.NewSlotStore(storage.NewFile("accounts.json"), "")
//	s, err := site.New(site.Config{
//	    Stores: site.NewLocalStores(base, accounts.Config{}, 0),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	http.ListenAndServe(":8081", s.Router())
//
// Hosted services:
//
//	client := hosted.NewClient("http://localhost:8080", nil)
//	s, err := site.New(site.Config{
//	    Stores: site.NewHostedStores(client, 30*24*time.Hour, nil, nil),
//	})
package site

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tendant/simple-accounts/internal/config"
	"github.com/tendant/simple-accounts/internal/http/middleware"
	"github.com/tendant/simple-accounts/internal/httputil"
	"github.com/tendant/simple-accounts/pkg/validation"
)

const (
	// DefaultVisitorTTL is how long a visitor cookie lives.
	DefaultVisitorTTL = 30 * 24 * time.Hour

	defaultMaxRequestBodySize = 64 << 10
)

// Config holds the configuration for the site API.
type Config struct {
	// Stores hands out each visitor's account store (required).
	Stores StoreProvider

	// Validator checks the registration form (default: validation.NewValidator("")).
	Validator *validation.Validator

	// StaticDir, when set, is served for every path the API does not own.
	StaticDir string

	// CookieSecure sets the Secure flag on the visitor cookie.
	CookieSecure bool

	// VisitorTTL is the lifetime of the visitor cookie (default: 30 days).
	VisitorTTL time.Duration

	SecurityHeaders    config.SecurityHeadersConfig
	MaxRequestBodySize int64

	// Logger is the structured logger (default: slog.Default()).
	Logger *slog.Logger
}

// Site is the site API.
type Site struct {
	config   Config
	visitors *visitors
	handler  *handler
}

// New creates the site API.
func New(cfg Config) (*Site, error) {
	if cfg.Stores == nil {
		return nil, errors.New("site: Stores is required")
	}
	if cfg.StaticDir != "" {
		info, err := os.Stat(cfg.StaticDir)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			return nil, errors.New("site: StaticDir is not a directory")
		}
	}
	if cfg.Validator == nil {
		cfg.Validator = validation.NewValidator("")
	}
	if cfg.VisitorTTL <= 0 {
		cfg.VisitorTTL = DefaultVisitorTTL
	}
	if cfg.MaxRequestBodySize <= 0 {
		cfg.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cookieConfig := httputil.DefaultCookieConfig()
	cookieConfig.Secure = cfg.CookieSecure
	v := &visitors{ttl: cfg.VisitorTTL, cookieConfig: cookieConfig, logger: cfg.Logger}

	return &Site{
		config:   cfg,
		visitors: v,
		handler: &handler{
			stores:    cfg.Stores,
			validator: cfg.Validator,
			logger:    cfg.Logger,
		},
	}, nil
}

// Router returns a chi router with the account routes and, if configured,
// the static files.
//
// Routes:
//
//	POST  /register      - Register from the registration form
//	POST  /login         - Login with email/password
//	POST  /login/google  - Simulated Google login
//	POST  /logout        - Logout
//	GET   /me            - Current user, or null
//	PATCH /me            - Update the current user's profile
//	GET   /health        - Health check
func (s *Site) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.Recover(s.config.Logger))
	r.Use(middleware.Logging(s.config.Logger))
	r.Use(middleware.SecurityHeaders(s.config.SecurityHeaders))
	r.Use(middleware.RequestSizeLimit(s.config.MaxRequestBodySize))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.visitors.middleware)
		r.Post("/register", s.handler.Register)
		r.Post("/login", s.handler.Login)
		r.Post("/login/google", s.handler.LoginWithGoogle)
		r.Post("/logout", s.handler.Logout)
		r.Get("/me", s.handler.Me)
		r.Patch("/me", s.handler.UpdateMe)
	})

	if s.config.StaticDir != "" {
		r.Handle("/*", staticFiles(s.config.StaticDir))
	}
	return r
}

// Handler returns the router as an http.Handler.
func (s *Site) Handler() http.Handler {
	return s.Router()
}

// staticFiles serves dir, refusing dotfiles such as .env or .git.
func staticFiles(dir string) http.Handler {
	fs := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, part := range strings.Split(path.Clean("/"+r.URL.Path), "/") {
			if strings.HasPrefix(part, ".") {
				http.NotFound(w, r)
				return
			}
		}
		fs.ServeHTTP(w, r)
	})
}
