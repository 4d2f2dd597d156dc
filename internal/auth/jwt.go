package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"

	"github.com/maltehedderich/rate-governor/internal/config"
	"github.com/maltehedderich/rate-governor/internal/logger"
)

// TokenValidator validates session tokens issued by the identity provider
type TokenValidator struct {
	config    *config.IdentityConfig
	logger    *logger.ComponentLogger
	parser    *jwt.Parser
	publicKey *rsa.PublicKey
	hmacKey   []byte
}

// Claims represents the JWT claims we expect
type Claims struct {
	jwt.RegisteredClaims
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// NewTokenValidator creates a new token validator
func NewTokenValidator(cfg *config.IdentityConfig) (*TokenValidator, error) {
	tv := &TokenValidator{
		config: cfg,
		logger: logger.Get().WithComponent("auth.validator"),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{cfg.JWTSigningAlgorithm}),
			jwt.WithLeeway(cfg.ClockSkewTolerance),
		),
	}

	if err := tv.loadSigningKey(); err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	tv.logger.Info("token validator initialized", logger.Fields{
		"algorithm": cfg.JWTSigningAlgorithm,
	})

	return tv, nil
}

func (tv *TokenValidator) loadSigningKey() error {
	switch tv.config.JWTSigningAlgorithm {
	case "RS256", "RS384", "RS512":
		if tv.config.JWTPublicKeyFile == "" {
			return fmt.Errorf("RS* algorithm requires public key file")
		}
		return tv.loadRSAPublicKey(tv.config.JWTPublicKeyFile)

	case "HS256", "HS384", "HS512":
		if tv.config.JWTSharedSecret == "" {
			return fmt.Errorf("HS* algorithm requires shared secret")
		}
		tv.hmacKey = []byte(tv.config.JWTSharedSecret)
		return nil
	}

	return fmt.Errorf("unsupported algorithm: %s", tv.config.JWTSigningAlgorithm)
}

// loadRSAPublicKey loads an RSA public key from a PEM file
func (tv *TokenValidator) loadRSAPublicKey(path string) error {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read public key file: %w", err)
	}

	block, _ := pem.Decode(keyData)
	if block == nil {
		return fmt.Errorf("failed to decode PEM block")
	}

	if pubKey, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaKey, ok := pubKey.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("public key is not RSA")
		}
		tv.publicKey = rsaKey
		return nil
	}

	rsaKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse public key: %w", err)
	}
	tv.publicKey = rsaKey
	return nil
}

// ValidateToken validates a JWT token and returns the claims
func (tv *TokenValidator) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := tv.parser.ParseWithClaims(tokenString, claims, tv.keyFunc)
	if err != nil {
		code := "invalid_token"
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			code = "token_expired"
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			code = "token_not_yet_valid"
		}
		return nil, &ValidationError{
			Code:    code,
			Message: "Token validation failed",
			Err:     err,
		}
	}

	if err := tv.validateRequiredClaims(claims); err != nil {
		return nil, err
	}

	tv.logger.Debug("token validated", logger.Fields{
		"user_id":    claims.UserID,
		"session_id": maskSessionID(claims.SessionID),
	})

	return claims, nil
}

func (tv *TokenValidator) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodRSA:
		return tv.publicKey, nil
	case *jwt.SigningMethodHMAC:
		return tv.hmacKey, nil
	}
	return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
}

func (tv *TokenValidator) validateRequiredClaims(claims *Claims) error {
	for _, requiredClaim := range tv.config.RequiredClaims {
		missing := false
		switch requiredClaim {
		case "user_id":
			missing = claims.UserID == ""
		case "session_id":
			missing = claims.SessionID == ""
		case "sub":
			missing = claims.Subject == ""
		}
		if missing {
			return &ValidationError{
				Code:    "missing_claim",
				Message: fmt.Sprintf("Required claim missing: %s", requiredClaim),
			}
		}
	}

	return nil
}

// maskSessionID masks a session ID for logging (shows only last 4 characters)
func maskSessionID(sessionID string) string {
	if len(sessionID) <= 4 {
		return "****"
	}
	return "****" + sessionID[len(sessionID)-4:]
}

// ValidationError represents a token validation error
type ValidationError struct {
	Code    string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
