package middleware

import (
	"net/http"
	"strings"

	"github.com/maltehedderich/rate-governor/internal/logger"
)

// InputValidation returns a middleware that rejects oversized URLs and
// caps request bodies. Zero limits disable the respective check.
func InputValidation(maxPathLength int, maxBodyBytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxPathLength > 0 && len(r.URL.Path) > maxPathLength {
				logger.FromContext(r.Context(), "middleware.input_validation").Warn("URL path too long", logger.Fields{
					"path_length": len(r.URL.Path),
					"max_length":  maxPathLength,
				})
				WriteJSONError(w, r, http.StatusRequestURITooLong, "uri_too_long",
					"Request URI exceeds maximum length")
				return
			}

			if maxBodyBytes > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
			}

			next.ServeHTTP(w, r)
		})
	}
}

// NoStore marks every response as uncacheable and disables content sniffing.
// Rate limit decisions and headers are per request and must not be cached.
func NoStore() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Cache-Control", "no-store")
			h.Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	}
}

// RequireMethods rejects requests whose method is not in methods
func RequireMethods(methods ...string) Middleware {
	allowed := make(map[string]bool, len(methods))
	for _, m := range methods {
		allowed[strings.ToUpper(m)] = true
	}
	allowHeader := strings.Join(methods, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !allowed[r.Method] {
				w.Header().Set("Allow", allowHeader)
				WriteJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed",
					"HTTP method not allowed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
