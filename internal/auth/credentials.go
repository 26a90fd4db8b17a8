// Package auth provides the authentication primitives behind the storefront:
// password and one-time code hashing, approval token generation, session
// credentials, and the role authorization table.
// See internal/middleware/auth.go for the request-time checks built on these.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// PasswordBcryptCost is the cost factor for password hashes
	PasswordBcryptCost = 12

	// CodeBcryptCost is the cost factor for one-time code hashes. Codes live
	// for minutes, so the cheaper cost keeps login latency down.
	CodeBcryptCost = 10

	// ApprovalTokenBytes is the entropy of an elevation approval token
	ApprovalTokenBytes = 32
)

// Hasher hashes and checks secrets with bcrypt at a fixed cost.
type Hasher struct {
	Cost int
}

// Passwords is the hasher used for account passwords.
var Passwords = Hasher{Cost: PasswordBcryptCost}

// Codes is the hasher used for one-time codes.
var Codes = Hasher{Cost: CodeBcryptCost}

// Hash returns the bcrypt hash of secret.
func (h Hasher) Hash(secret string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hashed), nil
}

// Matches reports whether secret matches the stored bcrypt hash.
func (h Hasher) Matches(secret, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(secret)) == nil
}

// GenerateApprovalToken returns a random hex token for an elevation request.
func GenerateApprovalToken() (string, error) {
	b := make([]byte, ApprovalTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ExtractBearerToken extracts the credential from an Authorization header
// Expected format: "Bearer eyJhbGciOi..."
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}

	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errors.New("token is empty after Bearer prefix")
	}

	return token, nil
}
