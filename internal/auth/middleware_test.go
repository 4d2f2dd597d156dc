package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func identityOf(t *testing.T, m *Middleware, r *http.Request) (*UserContext, bool) {
	t.Helper()
	var (
		user *UserContext
		ok   bool
	)
	h := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok = GetUserContext(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected request to pass, got %d", rec.Code)
	}
	return user, ok
}

func TestMiddlewareIdentifiesCaller(t *testing.T) {
	m, err := NewMiddleware(hmacConfig())
	if err != nil {
		t.Fatal(err)
	}
	token := signHMAC(t, validClaims())

	t.Run("cookie", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/v1/waitlist", nil)
		req.AddCookie(&http.Cookie{Name: "session", Value: token})
		user, ok := identityOf(t, m, req)
		if !ok || user.UserID != "user123" || user.SessionID != "session456" {
			t.Errorf("unexpected identity %+v ok=%v", user, ok)
		}
	})

	t.Run("bearer", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/v1/waitlist", nil)
		req.Header.Set("Authorization", "bearer "+token)
		if user, ok := identityOf(t, m, req); !ok || user.UserID != "user123" {
			t.Errorf("unexpected identity %+v ok=%v", user, ok)
		}
	})
}

func TestMiddlewareContinuesAnonymously(t *testing.T) {
	m, err := NewMiddleware(hmacConfig())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		setup func(r *http.Request)
	}{
		{"no token", func(r *http.Request) {}},
		{"basic auth", func(r *http.Request) { r.Header.Set("Authorization", "Basic dXNlcjpwYXNz") }},
		{"empty bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer ") }},
		{"invalid token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer not.a.token") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			tt.setup(req)
			if _, ok := identityOf(t, m, req); ok {
				t.Error("expected anonymous request")
			}
		})
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	cfg := hmacConfig()
	cfg.Enabled = false
	cfg.JWTSharedSecret = ""

	m, err := NewMiddleware(cfg)
	if err != nil {
		t.Fatalf("expected disabled middleware without key material, got %v", err)
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+signHMAC(t, validClaims()))
	if _, ok := identityOf(t, m, req); ok {
		t.Error("expected no identity when disabled")
	}
}
