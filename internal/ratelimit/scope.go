package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"github.com/maltehedderich/rate-governor/internal/auth"
)

// Key strategies for ScopeResolver.
const (
	KeyIP       = "ip"
	KeyUser     = "user"
	KeySession  = "session"
	KeyUserOrIP = "user_or_ip"
)

// ScopeResolver builds a Scope from an HTTP request.
type ScopeResolver struct {
	strategy string
}

// NewScopeResolver creates a resolver for one of the Key* strategies.
func NewScopeResolver(strategy string) *ScopeResolver {
	return &ScopeResolver{strategy: strategy}
}

// Resolve returns the request's scope on route. It returns false when the
// strategy cannot identify the caller, e.g. "user" for an anonymous request.
func (sr *ScopeResolver) Resolve(r *http.Request, route string) (Scope, bool) {
	scope := Scope{Route: route}

	user, hasUser := auth.GetUserContext(r.Context())
	if hasUser {
		scope.UserID = user.UserID
	}

	switch sr.strategy {
	case KeyIP:
		ip := ClientIP(r)
		if ip == "" {
			return Scope{}, false
		}
		scope.Identifier = "ip:" + ip

	case KeyUser:
		if scope.UserID == "" {
			return Scope{}, false
		}
		scope.Identifier = "user:" + scope.UserID

	case KeySession:
		if !hasUser || user.SessionID == "" {
			return Scope{}, false
		}
		scope.Identifier = "session:" + user.SessionID

	case KeyUserOrIP:
		if scope.UserID != "" {
			scope.Identifier = "user:" + scope.UserID
			break
		}
		ip := ClientIP(r)
		if ip == "" {
			return Scope{}, false
		}
		scope.Identifier = "ip:" + ip

	default:
		return Scope{}, false
	}

	return scope, true
}

// ClientIP returns the caller's address. It trusts X-Forwarded-For (first
// hop) and X-Real-IP, so the service must sit behind a proxy that sets them.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
