package middleware

import (
	"net/http"

	"github.com/maltehedderich/rate-governor/internal/logger"
)

const (
	// CorrelationIDHeader is the HTTP header for correlation ID
	CorrelationIDHeader = "X-Correlation-ID"

	maxCorrelationIDLength = 128
)

// CorrelationID returns a middleware that adds a correlation ID to requests.
// An incoming ID is reused when it looks sane, otherwise a new one is generated.
func CorrelationID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := r.Header.Get(CorrelationIDHeader)
			if !validCorrelationID(correlationID) {
				correlationID = logger.GenerateCorrelationID()
			}

			r = r.WithContext(logger.WithCorrelationID(r.Context(), correlationID))
			w.Header().Set(CorrelationIDHeader, correlationID)

			next.ServeHTTP(w, r)
		})
	}
}

func validCorrelationID(id string) bool {
	if id == "" || len(id) > maxCorrelationIDLength {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == ':':
		default:
			return false
		}
	}
	return true
}
