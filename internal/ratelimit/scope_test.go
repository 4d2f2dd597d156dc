package ratelimit

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/maltehedderich/rate-governor/internal/auth"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", "192.168.1.100:12345", nil, "192.168.1.100"},
		{"ipv6 remote addr", "[2001:db8::1]:443", nil, "2001:db8::1"},
		{"forwarded for first hop", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.1, 198.51.100.1"}, "203.0.113.1"},
		{"real ip", "10.0.0.1:1", map[string]string{"X-Real-IP": " 203.0.113.5 "}, "203.0.113.5"},
		{"forwarded wins over real ip", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.1", "X-Real-IP": "203.0.113.5"}, "203.0.113.1"},
		{"no port", "192.168.1.7", nil, "192.168.1.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := ClientIP(req); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestScopeResolver(t *testing.T) {
	withUser := &auth.UserContext{UserID: "user123", SessionID: "sess456"}

	tests := []struct {
		strategy string
		user     *auth.UserContext
		wantOK   bool
		wantID   string
		wantUser string
	}{
		{KeyIP, nil, true, "ip:192.0.2.10", ""},
		{KeyIP, withUser, true, "ip:192.0.2.10", "user123"},
		{KeyUser, withUser, true, "user:user123", "user123"},
		{KeyUser, nil, false, "", ""},
		{KeySession, withUser, true, "session:sess456", "user123"},
		{KeySession, &auth.UserContext{UserID: "u"}, false, "", ""},
		{KeySession, nil, false, "", ""},
		{KeyUserOrIP, withUser, true, "user:user123", "user123"},
		{KeyUserOrIP, nil, true, "ip:192.0.2.10", ""},
		{"route", nil, false, "", ""},
	}

	for _, tt := range tests {
		name := tt.strategy
		if tt.user != nil {
			name += "/authenticated"
		}
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/v1/waitlist", nil)
			req.RemoteAddr = "192.0.2.10:5555"
			if tt.user != nil {
				req = req.WithContext(auth.SetUserContext(context.Background(), tt.user))
			}

			scope, ok := NewScopeResolver(tt.strategy).Resolve(req, "waitlist")
			if ok != tt.wantOK {
				t.Fatalf("expected ok=%v, got %v", tt.wantOK, ok)
			}
			if !ok {
				return
			}
			if scope.Route != "waitlist" || scope.Identifier != tt.wantID || scope.UserID != tt.wantUser {
				t.Errorf("unexpected scope %+v", scope)
			}
		})
	}
}
