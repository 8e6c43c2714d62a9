package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	domain "github.com/example/support-chat/domain/chat"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when the token is invalid.
	ErrInvalidToken = fmt.Errorf("invalid token: %w", domain.ErrUnauthenticated)
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = fmt.Errorf("token has expired: %w", domain.ErrUnauthenticated)
)

const devSecret = "support-chat-dev-secret"

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	SecretKey string
	Issuer    string
	TTL       time.Duration
}

// ConfigFromEnv reads JWT_SECRET, JWT_ISSUER and JWT_TTL. Without JWT_SECRET a fixed
// development secret is used.
func ConfigFromEnv() JWTConfig {
	cfg := JWTConfig{
		SecretKey: os.Getenv("JWT_SECRET"),
		Issuer:    os.Getenv("JWT_ISSUER"),
		TTL:       12 * time.Hour,
	}
	if cfg.SecretKey == "" {
		cfg.SecretKey = devSecret
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "support-chat"
	}
	if v := os.Getenv("JWT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.TTL = d
		}
	}
	return cfg
}

// UsesDevSecret reports whether cfg fell back to the development secret.
func (c JWTConfig) UsesDevSecret() bool {
	return c.SecretKey == devSecret
}

// Claims carries the chat identity inside a token. The user id is the subject.
type Claims struct {
	Role domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// JWTVerifier issues and verifies HMAC signed tokens.
type JWTVerifier struct {
	config JWTConfig
	now    func() time.Time
}

// NewJWTVerifier creates a verifier for config.
func NewJWTVerifier(config JWTConfig) *JWTVerifier {
	return &JWTVerifier{config: config, now: time.Now}
}

// Issue signs a token for userID acting as role.
func (v *JWTVerifier) Issue(userID string, role domain.Role) (string, error) {
	if userID == "" || !role.Valid() {
		return "", fmt.Errorf("cannot issue token for %q as %q: %w", userID, role, domain.ErrInvalidPayload)
	}
	now := v.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.config.Issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(v.config.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(v.config.SecretKey))
}

// Verify validates token and returns the identity it carries.
func (v *JWTVerifier) Verify(_ context.Context, token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(v.config.SecretKey), nil
	},
		jwt.WithIssuer(v.config.Issuer),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Identity{}, ErrExpiredToken
		}
		return domain.Identity{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" || !claims.Role.Valid() {
		return domain.Identity{}, ErrInvalidToken
	}
	return domain.Identity{UserID: claims.Subject, Role: claims.Role}, nil
}
