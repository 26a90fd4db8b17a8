// Package auth - session.go issues and validates the signed session credential
// handed out after a successful second factor. Sessions are stateless HS256
// JWTs; expiry is the only bound on their validity.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// SessionIssuerName is the iss claim on every session token.
	SessionIssuerName = "storefront-auth"
	// DefaultSessionTTL is the validity window of a session credential.
	DefaultSessionTTL = 24 * time.Hour
)

var (
	// ErrInvalidSession is returned for any token that fails parsing, signature or claim checks.
	ErrInvalidSession = errors.New("invalid session token")
	// ErrSessionSecretMissing is returned by ResolveSessionSecret outside dev mode.
	ErrSessionSecretMissing = errors.New("SECURITY ERROR: SFA_AUTH_JWT_SECRET is required in production. " +
		"Generate a secure secret with: go run ./cmd/keygen")
)

// Claims represents the session token claims
type Claims struct {
	AccountID string `json:"account_id"`
	Role      Role   `json:"role"`
	jwt.RegisteredClaims
}

// SessionIssuer signs and validates session tokens with a fixed secret.
type SessionIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionIssuer creates a SessionIssuer. A zero ttl selects DefaultSessionTTL.
func NewSessionIssuer(secret string, ttl time.Duration) *SessionIssuer {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (s *SessionIssuer) WithClock(now func() time.Time) *SessionIssuer {
	s.now = now
	return s
}

// TTL returns the configured validity window.
func (s *SessionIssuer) TTL() time.Duration {
	return s.ttl
}

// Issue creates a session token for accountID with the given role.
func (s *SessionIssuer) Issue(accountID string, role Role) (string, time.Time, error) {
	issuedAt := s.now()
	expiresAt := issuedAt.Add(s.ttl)

	claims := &Claims{
		AccountID: accountID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			Issuer:    SessionIssuerName,
			Subject:   accountID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate parses a session token and returns its claims.
func (s *SessionIssuer) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	},
		jwt.WithTimeFunc(s.now),
		jwt.WithIssuer(SessionIssuerName),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidSession
	}
	if claims.AccountID == "" || !claims.Role.Valid() {
		return nil, ErrInvalidSession
	}
	return claims, nil
}

// IsDevMode reports whether the process runs in development mode.
func IsDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	ginMode := os.Getenv("GIN_MODE")

	return devMode == "true" || devMode == "1" || ginMode == "debug"
}

// ResolveSessionSecret validates the configured signing secret. Outside dev
// mode an empty secret is fatal; in dev mode a random secret is generated and
// sessions will not survive a restart.
func ResolveSessionSecret(configured string, devMode bool) (string, error) {
	if configured == "" {
		if !devMode {
			return "", ErrSessionSecretMissing
		}
		slog.Warn("session secret not set, using auto-generated secret for development")
		return generateRandomSecret(), nil
	}

	if len(configured) < 32 {
		slog.Warn("session secret is shorter than the recommended 32 characters")
	}
	return configured, nil
}

// generateRandomSecret creates a cryptographically secure random secret
func generateRandomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
