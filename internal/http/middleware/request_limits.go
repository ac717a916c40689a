package middleware

import (
	"net/http"
)

// RequestSizeLimit caps request bodies at maxBytes. Handlers see the overflow
// as httputil.ErrBodyTooLarge from DecodeJSON. A non-positive limit disables
// the cap.
func RequestSizeLimit(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && r.Body != http.NoBody {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
