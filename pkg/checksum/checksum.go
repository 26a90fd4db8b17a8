// Package checksum provides SHA-256 digest helpers. Approval tokens are only
// ever persisted as their hex digest, so every component that issues or
// redeems a token hashes it through here and compares digests with Equal.
package checksum

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashString returns the lowercase hex SHA-256 digest of s.
func HashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Equal compares two hex digests in constant time. Case is ignored.
func Equal(a, b string) bool {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
