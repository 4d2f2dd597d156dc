package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/maltehedderich/rate-governor/internal/config"
	"github.com/maltehedderich/rate-governor/internal/logger"
)

func init() {
	logger.Init(logger.InfoLevel, "json", io.Discard)
}

const testSecret = "correct-horse-battery-staple"

func hmacConfig() *config.IdentityConfig {
	return &config.IdentityConfig{
		Enabled:             true,
		CookieName:          "session",
		JWTSigningAlgorithm: "HS256",
		JWTSharedSecret:     testSecret,
		ClockSkewTolerance:  5 * time.Second,
		RequiredClaims:      []string{"user_id"},
	}
}

func signHMAC(t *testing.T, claims *Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func validClaims() *Claims {
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		UserID:    "user123",
		SessionID: "session456",
	}
}

func TestTokenValidator_HMAC(t *testing.T) {
	validator, err := NewTokenValidator(hmacConfig())
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}

	t.Run("valid", func(t *testing.T) {
		claims, err := validator.ValidateToken(signHMAC(t, validClaims()))
		if err != nil {
			t.Fatalf("expected valid token, got %v", err)
		}
		if claims.UserID != "user123" || claims.SessionID != "session456" {
			t.Errorf("unexpected claims %+v", claims)
		}
	})

	tests := []struct {
		name     string
		token    func(t *testing.T) string
		wantCode string
	}{
		{"expired", func(t *testing.T) string {
			c := validClaims()
			c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
			return signHMAC(t, c)
		}, "token_expired"},
		{"not yet valid", func(t *testing.T) string {
			c := validClaims()
			c.NotBefore = jwt.NewNumericDate(time.Now().Add(time.Hour))
			return signHMAC(t, c)
		}, "token_not_yet_valid"},
		{"missing user", func(t *testing.T) string {
			c := validClaims()
			c.UserID = ""
			return signHMAC(t, c)
		}, "missing_claim"},
		{"wrong secret", func(t *testing.T) string {
			s, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims()).SignedString([]byte("other"))
			return s
		}, "invalid_token"},
		{"wrong algorithm", func(t *testing.T) string {
			s, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, validClaims()).SignedString([]byte(testSecret))
			return s
		}, "invalid_token"},
		{"garbage", func(t *testing.T) string { return "not.a.token" }, "invalid_token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validator.ValidateToken(tt.token(t))
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if vErr.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, vErr.Code)
			}
		})
	}
}

func TestTokenValidator_ClockSkew(t *testing.T) {
	validator, err := NewTokenValidator(hmacConfig())
	if err != nil {
		t.Fatal(err)
	}

	c := validClaims()
	c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-2 * time.Second))
	if _, err := validator.ValidateToken(signHMAC(t, c)); err != nil {
		t.Errorf("expected token within skew tolerance to validate, got %v", err)
	}
}

func TestTokenValidator_RSA(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	der, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "public.pem")
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}

	validator, err := NewTokenValidator(&config.IdentityConfig{
		JWTSigningAlgorithm: "RS256",
		JWTPublicKeyFile:    path,
	})
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims()).SignedString(privateKey)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := validator.ValidateToken(token); err != nil {
		t.Errorf("expected valid RS256 token, got %v", err)
	}

	if _, err := validator.ValidateToken(signHMAC(t, validClaims())); err == nil {
		t.Error("expected HS256 token to be rejected by RS256 validator")
	}
}

func TestNewTokenValidator_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.IdentityConfig
	}{
		{"hmac without secret", &config.IdentityConfig{JWTSigningAlgorithm: "HS256"}},
		{"rsa without key file", &config.IdentityConfig{JWTSigningAlgorithm: "RS256"}},
		{"rsa missing file", &config.IdentityConfig{JWTSigningAlgorithm: "RS256", JWTPublicKeyFile: "/nonexistent/key.pem"}},
		{"unsupported", &config.IdentityConfig{JWTSigningAlgorithm: "ES256"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTokenValidator(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestMaskSessionID(t *testing.T) {
	if got := maskSessionID("abc"); got != "****" {
		t.Errorf("expected ****, got %s", got)
	}
	if got := maskSessionID("session456"); got != "****n456" {
		t.Errorf("expected ****n456, got %s", got)
	}
}
