package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/maltehedderich/rate-governor/internal/logger"
)

func init() {
	logger.Init(logger.InfoLevel, "json", io.Discard)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	base := NewChain(mark("first"), mark("second"))
	extended := base.Append(mark("third"))

	if base.Len() != 2 || extended.Len() != 3 {
		t.Fatalf("expected lengths 2 and 3, got %d and %d", base.Len(), extended.Len())
	}

	h := extended.Then(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	want := []string{"first", "second", "third", "handler"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("expected order %v, got %v", want, order)
	}
}

func TestChainNilHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	NewChain().Then(nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestCorrelationID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		reuse    bool
	}{
		{"generated when absent", "", false},
		{"reused when valid", "req-123_abc.def:1", true},
		{"replaced when it has spaces", "bad id", false},
		{"replaced when too long", strings.Repeat("a", maxCorrelationIDLength+1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := CorrelationID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = logger.GetCorrelationID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(CorrelationIDHeader, tt.incoming)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if seen == "" {
				t.Fatal("expected a correlation ID in the context")
			}
			if got := rr.Header().Get(CorrelationIDHeader); got != seen {
				t.Errorf("response header %q does not match context %q", got, seen)
			}
			if tt.reuse && seen != tt.incoming {
				t.Errorf("expected incoming ID %q to be reused, got %q", tt.incoming, seen)
			}
			if !tt.reuse && seen == tt.incoming {
				t.Errorf("expected a fresh ID, got incoming %q", seen)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	tests := []struct {
		name           string
		handler        http.HandlerFunc
		expectedStatus int
		expectJSON     bool
	}{
		{
			name: "no panic",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("ok"))
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "panic before write",
			handler: func(w http.ResponseWriter, r *http.Request) {
				panic("boom")
			},
			expectedStatus: http.StatusInternalServerError,
			expectJSON:     true,
		},
		{
			name: "panic after header",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusAccepted)
				panic("late boom")
			},
			expectedStatus: http.StatusAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req = req.WithContext(logger.WithCorrelationID(req.Context(), "corr-1"))
			rr := httptest.NewRecorder()

			Recovery()(tt.handler).ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
			if !tt.expectJSON {
				return
			}

			var resp ErrorResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Error != "internal_server_error" {
				t.Errorf("expected internal_server_error, got %q", resp.Error)
			}
			if resp.CorrelationID != "corr-1" {
				t.Errorf("expected correlation ID corr-1, got %q", resp.CorrelationID)
			}
			if strings.Contains(resp.Message, "boom") {
				t.Error("panic value leaked into the response")
			}
		})
	}
}

func TestLoggingLevels(t *testing.T) {
	var buf bytes.Buffer
	logger.Init(logger.DebugLevel, "json", &buf)
	defer logger.Init(logger.InfoLevel, "json", io.Discard)

	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusTooManyRequests, "WARN"},
		{http.StatusServiceUnavailable, "ERROR"},
	}

	for _, tt := range tests {
		buf.Reset()
		h := Logging()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		req := httptest.NewRequest(http.MethodGet, "/v1/check?token=secret&page=2", nil)
		h.ServeHTTP(httptest.NewRecorder(), req)

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		last := lines[len(lines)-1]

		var entry logger.Entry
		if err := json.Unmarshal([]byte(last), &entry); err != nil {
			t.Fatalf("status %d: decode %q: %v", tt.status, last, err)
		}
		if entry.Level != tt.level {
			t.Errorf("status %d: expected level %s, got %s", tt.status, tt.level, entry.Level)
		}
		if entry.Message != "request completed" {
			t.Errorf("status %d: unexpected message %q", tt.status, entry.Message)
		}
		if strings.Contains(buf.String(), "secret") {
			t.Errorf("status %d: query credential was logged", tt.status)
		}
	}
}

func TestSanitizeQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"page=2", "page=2"},
		{"Token=abc&page=1", "Token=%5BREDACTED%5D&page=1"},
		{"api_key=k", "api_key=%5BREDACTED%5D"},
		{"%zz", "[unparseable]"},
	}
	for _, tt := range tests {
		if got := sanitizeQuery(tt.in); got != tt.want {
			t.Errorf("sanitizeQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestInputValidation(t *testing.T) {
	readAll := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	h := InputValidation(16, 8)(readAll)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"within limits", "/v1/check", "{}", http.StatusOK},
		{"path too long", "/" + strings.Repeat("p", 20), "", http.StatusRequestURITooLong},
		{"body too large", "/v1/check", strings.Repeat("x", 9), http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body)))
			if rr.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rr.Code)
			}
		})
	}
}

func TestRequireMethods(t *testing.T) {
	h := RequireMethods(http.MethodPost)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	if rr.Code != http.StatusNoContent {
		t.Errorf("expected 204 for POST, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET, got %d", rr.Code)
	}
	if rr.Header().Get("Allow") != http.MethodPost {
		t.Errorf("expected Allow: POST, got %q", rr.Header().Get("Allow"))
	}
}

func TestNoStore(t *testing.T) {
	rr := httptest.NewRecorder()
	NoStore()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("expected Cache-Control no-store, got %q", rr.Header().Get("Cache-Control"))
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("expected nosniff, got %q", rr.Header().Get("X-Content-Type-Options"))
	}
}
