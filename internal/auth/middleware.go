package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/maltehedderich/rate-governor/internal/config"
	"github.com/maltehedderich/rate-governor/internal/logger"
	"github.com/maltehedderich/rate-governor/internal/metrics"
)

// Middleware attaches the caller's identity to the request context.
// It never rejects a request: callers without a valid token continue
// anonymously and are limited by address instead of user.
type Middleware struct {
	config    *config.IdentityConfig
	validator *TokenValidator
	logger    *logger.ComponentLogger
}

// NewMiddleware creates the identity middleware
func NewMiddleware(cfg *config.IdentityConfig) (*Middleware, error) {
	m := &Middleware{
		config: cfg,
		logger: logger.Get().WithComponent("auth.middleware"),
	}

	if !cfg.Enabled {
		return m, nil
	}

	validator, err := NewTokenValidator(cfg)
	if err != nil {
		return nil, err
	}
	m.validator = validator

	return m, nil
}

// Handler returns the middleware handler
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.validator == nil {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := m.extractToken(r)
		if !ok {
			metrics.RecordIdentityResult("anonymous")
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.validator.ValidateToken(token)
		if err != nil {
			metrics.RecordIdentityResult("invalid")
			fields := logger.Fields{"path": r.URL.Path}
			var vErr *ValidationError
			if errors.As(err, &vErr) {
				fields["code"] = vErr.Code
			}
			logger.FromContext(r.Context(), "auth.middleware").Debug("ignoring invalid token", fields)
			next.ServeHTTP(w, r)
			return
		}

		metrics.RecordIdentityResult("identified")
		ctx := SetUserContext(r.Context(), NewUserContext(claims))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken reads the session cookie, then an Authorization bearer token
func (m *Middleware) extractToken(r *http.Request) (string, bool) {
	if m.config.CookieName != "" {
		if cookie, err := r.Cookie(m.config.CookieName); err == nil && cookie.Value != "" {
			return cookie.Value, true
		}
	}

	authz := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(authz, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	return token, token != ""
}
