// Package validation checks identity input (usernames, emails, passwords,
// employee identifiers, one-time codes and approval tokens) before any of it
// reaches a repository. Validators return plain errors; the service layer
// wraps them as apperr.Validation with the offending field.
package validation

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/vaultplay/storefront-auth/internal/auth"
)

const (
	MinUsernameLength   = 3
	MaxUsernameLength   = 64
	MaxEmailLength      = 320
	MinPasswordLength   = 8
	MaxPasswordBytes    = 72 // bcrypt ignores everything past 72 bytes
	MaxEmployeeIDLength = 64
)

var (
	usernamePattern   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
	employeeIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)
	tokenPattern      = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
)

// ErrRequired is returned for empty input.
var ErrRequired = errors.New("is required")

// ValidateUsername checks length and character set.
func ValidateUsername(username string) error {
	if username == "" {
		return ErrRequired
	}
	n := utf8.RuneCountInString(username)
	if n < MinUsernameLength || n > MaxUsernameLength {
		return fmt.Errorf("must be between %d and %d characters", MinUsernameLength, MaxUsernameLength)
	}
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("may only contain letters, digits, '.', '_' and '-'")
	}
	return nil
}

// NormalizeEmail trims surrounding space. Case is preserved for display;
// uniqueness is enforced case-insensitively in the store.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(email)
}

// ValidateEmail checks that email is a bare RFC 5322 address.
func ValidateEmail(email string) error {
	if email == "" {
		return ErrRequired
	}
	if len(email) > MaxEmailLength {
		return fmt.Errorf("must be at most %d characters", MaxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return fmt.Errorf("is not a valid email address")
	}
	return nil
}

// ValidatePassword checks length bounds.
func ValidatePassword(password string) error {
	if password == "" {
		return ErrRequired
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return fmt.Errorf("must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordBytes {
		return fmt.Errorf("must be at most %d bytes", MaxPasswordBytes)
	}
	return nil
}

// ValidateEmployeeID checks length and character set.
func ValidateEmployeeID(id string) error {
	if id == "" {
		return ErrRequired
	}
	if len(id) > MaxEmployeeIDLength {
		return fmt.Errorf("must be at most %d characters", MaxEmployeeIDLength)
	}
	if !employeeIDPattern.MatchString(id) {
		return fmt.Errorf("may only contain letters, digits, '_' and '-'")
	}
	return nil
}

// ValidateCode checks the six-digit one-time code format.
func ValidateCode(code string) error {
	if code == "" {
		return ErrRequired
	}
	if !auth.IsCodeFormat(code) {
		return fmt.Errorf("must be 6 digits")
	}
	return nil
}

// ValidateApprovalToken checks the 64 hex character token format.
func ValidateApprovalToken(token string) error {
	if token == "" {
		return ErrRequired
	}
	if !tokenPattern.MatchString(token) {
		return fmt.Errorf("is malformed")
	}
	return nil
}
