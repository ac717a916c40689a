package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/tendant/simple-accounts/internal/config"
	"github.com/tendant/simple-accounts/internal/httputil"
)

// RateLimitConfig holds rate limiting configuration for a specific endpoint type.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	Logger   *slog.Logger
}

// RateLimit creates an IP-based rate limiter middleware with logging.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.Requests,
		cfg.Window,
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Logger != nil {
				cfg.Logger.Warn("rate limit exceeded",
					"ip", clientIP(r),
					"path", r.URL.Path,
					"method", r.Method,
					"user_agent", r.UserAgent(),
				)
			}
			httputil.ErrorCode(w, http.StatusTooManyRequests, "request/rate-limited", "rate limit exceeded. please try again later")
		}),
	)
}

// NoRateLimit returns a no-op middleware when rate limiting is disabled.
func NoRateLimit() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return next
	}
}

// Rate limiter groups returned by CreateRateLimiters.
const (
	LimitAuth      = "auth"
	LimitReset     = "reset"
	LimitReauth    = "reauth"
	LimitProfile   = "profile"
	LimitDocuments = "documents"
)

// CreateRateLimiters creates rate limiting middleware functions based on configuration.
func CreateRateLimiters(cfg config.RateLimitConfig, logger *slog.Logger) map[string]func(http.Handler) http.Handler {
	if !cfg.Enabled {
		noOp := NoRateLimit()
		return map[string]func(http.Handler) http.Handler{
			LimitAuth:      noOp,
			LimitReset:     noOp,
			LimitReauth:    noOp,
			LimitProfile:   noOp,
			LimitDocuments: noOp,
		}
	}

	return map[string]func(http.Handler) http.Handler{
		LimitAuth: RateLimit(RateLimitConfig{
			Requests: cfg.AuthRequestsPerMinute,
			Window:   time.Duration(cfg.AuthWindowMinutes) * time.Minute,
			Logger:   logger,
		}),
		LimitReset: RateLimit(RateLimitConfig{
			Requests: cfg.ResetRequestsPerWindow,
			Window:   time.Duration(cfg.ResetWindowMinutes) * time.Minute,
			Logger:   logger,
		}),
		LimitReauth: RateLimit(RateLimitConfig{
			Requests: cfg.ReauthRequestsPerWindow,
			Window:   time.Duration(cfg.ReauthWindowMinutes) * time.Minute,
			Logger:   logger,
		}),
		LimitProfile: RateLimit(RateLimitConfig{
			Requests: cfg.ProfileRequestsPerMinute,
			Window:   time.Duration(cfg.ProfileWindowMinutes) * time.Minute,
			Logger:   logger,
		}),
		LimitDocuments: RateLimit(RateLimitConfig{
			Requests: cfg.DocumentRequestsPerMinute,
			Window:   time.Duration(cfg.DocumentWindowMinutes) * time.Minute,
			Logger:   logger,
		}),
	}
}
