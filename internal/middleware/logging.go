package middleware

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maltehedderich/rate-governor/internal/logger"
	"github.com/maltehedderich/rate-governor/internal/ratelimit"
)

var sensitiveQueryParams = []string{"token", "access_token", "id_token", "password", "secret", "api_key", "apikey"}

// Logging returns a middleware that logs HTTP requests and responses
func Logging() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newResponseWriter(w)
			log := logger.FromContext(r.Context(), "http")
			remoteIP := ratelimit.ClientIP(r)

			log.Debug("incoming request", logger.Fields{
				"method":         r.Method,
				"path":           r.URL.Path,
				"query":          sanitizeQuery(r.URL.RawQuery),
				"remote_ip":      remoteIP,
				"user_agent":     r.UserAgent(),
				"protocol":       r.Proto,
				"content_length": r.ContentLength,
			})

			next.ServeHTTP(rw, r)

			fields := logger.Fields{
				"method":        r.Method,
				"path":          r.URL.Path,
				"status":        rw.statusCode,
				"duration_ms":   time.Since(start).Milliseconds(),
				"response_size": rw.size,
				"remote_ip":     remoteIP,
			}

			const message = "request completed"
			switch {
			case rw.statusCode >= 500:
				log.Error(message, fields)
			case rw.statusCode >= 400:
				log.Warn(message, fields)
			default:
				log.Info(message, fields)
			}
		})
	}
}

// sanitizeQuery redacts credentials passed as query parameters
func sanitizeQuery(query string) string {
	if query == "" {
		return ""
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return "[unparseable]"
	}
	for key := range values {
		lower := strings.ToLower(key)
		for _, sensitive := range sensitiveQueryParams {
			if lower == sensitive {
				values[key] = []string{"[REDACTED]"}
				break
			}
		}
	}
	return values.Encode()
}
