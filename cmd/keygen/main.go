// Package main prints a fresh set of deployment secrets: the master key that
// protects employee private keys at rest, a PBKDF2 salt, the session signing
// secret and the super-admin request key. Output is in env-file format so it
// can be redirected into a secrets manager import or a local .env file.
package main

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log"

	"github.com/vaultplay/storefront-auth/internal/auth"
	"github.com/vaultplay/storefront-auth/internal/crypto"
)

func main() {
	// 24 random bytes encode to exactly 32 characters, which the server uses as
	// a raw AES-256 key.
	masterKey, err := crypto.GenerateKey()
	if err != nil {
		log.Fatal(err)
	}
	salt, err := crypto.GenerateSalt(16)
	if err != nil {
		log.Fatal(err)
	}
	sessionSecret, err := crypto.GenerateKey()
	if err != nil {
		log.Fatal(err)
	}
	superAdminKey, err := auth.GenerateApprovalToken()
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("ENCRYPTION_KEY=%s\n", base64.RawURLEncoding.EncodeToString(masterKey[:24]))
	fmt.Printf("SFA_CRYPTO_KEY_SALT=%s\n", hex.EncodeToString(salt))
	fmt.Printf("SFA_AUTH_JWT_SECRET=%s\n", base64.RawURLEncoding.EncodeToString(sessionSecret))
	fmt.Printf("SFA_PROVISIONING_SUPERADMIN_SECRET_KEY=%s\n", superAdminKey)
}
