package middleware

import (
	"net/http"
	"strconv"

	"github.com/tendant/simple-accounts/internal/config"
)

type headerValue struct {
	name, value string
}

// responseHeaders resolves the configured header values once. Empty values
// and a zero HSTS max age leave the header unset.
func responseHeaders(cfg config.SecurityHeadersConfig) []headerValue {
	var hsts string
	if cfg.HSTSMaxAge > 0 {
		hsts = "max-age=" + strconv.Itoa(cfg.HSTSMaxAge) + "; includeSubDomains"
	}
	candidates := []headerValue{
		{"Content-Security-Policy", cfg.CSP},
		{"Strict-Transport-Security", hsts},
		{"X-Frame-Options", cfg.FrameOptions},
		{"X-Content-Type-Options", cfg.ContentTypeOptions},
		{"X-XSS-Protection", cfg.XSSProtection},
		{"Referrer-Policy", cfg.ReferrerPolicy},
		{"Permissions-Policy", cfg.PermissionsPolicy},
	}
	out := candidates[:0]
	for _, h := range candidates {
		if h.value != "" {
			out = append(out, h)
		}
	}
	return out
}

// SecurityHeaders stamps the configured security headers on every response
// of accountd and the site, including error pages.
func SecurityHeaders(cfg config.SecurityHeadersConfig) func(http.Handler) http.Handler {
	headers := responseHeaders(cfg)
	if !cfg.Enabled || len(headers) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for _, hv := range headers {
				h.Set(hv.name, hv.value)
			}
			next.ServeHTTP(w, r)
		})
	}
}
