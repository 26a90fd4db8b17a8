// Package crypto holds the key material primitives behind signed staff
// identities: RSA key pair generation, signing and verification of a stable
// identifier, and AES-256-GCM encryption of the private half at rest. The
// plaintext private key only ever exists in memory during provisioning.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// MinPBKDF2Iterations is the floor applied to DeriveKeyCipher.
const MinPBKDF2Iterations = 100000

var (
	// ErrKeyLengthInvalid is returned when a master key is not exactly 32 bytes (required for AES-256).
	ErrKeyLengthInvalid = errors.New("crypto: key must be exactly 32 bytes for AES-256")
	// ErrCiphertextCorrupted is returned when the ciphertext fails base64 decoding or is too short to contain a valid nonce.
	ErrCiphertextCorrupted = errors.New("crypto: ciphertext is corrupted or tampered")
	// ErrDecryptionFailed is returned when AES-GCM authentication fails, indicating tampering or a wrong key.
	ErrDecryptionFailed = errors.New("crypto: decryption operation failed")
	// ErrSaltTooShort is returned when the provided salt is fewer than 16 bytes.
	ErrSaltTooShort = errors.New("crypto: salt must be at least 16 bytes")
	// ErrEmptyPlaintext is returned when asked to encrypt an empty private key.
	ErrEmptyPlaintext = errors.New("crypto: nothing to encrypt")
)

// KeyCipher encrypts private keys under a process-wide master key.
type KeyCipher struct {
	masterKey []byte
}

// NewKeyCipher creates a cipher with a 32-byte master key
func NewKeyCipher(masterKey []byte) (*KeyCipher, error) {
	if len(masterKey) != 32 {
		return nil, ErrKeyLengthInvalid
	}
	keyCopy := make([]byte, 32)
	copy(keyCopy, masterKey)
	return &KeyCipher{masterKey: keyCopy}, nil
}

// DeriveKeyCipher creates a cipher by deriving a key from a passphrase
func DeriveKeyCipher(passphrase string, salt []byte, iterations int) (*KeyCipher, error) {
	if len(salt) < 16 {
		return nil, ErrSaltTooShort
	}
	if iterations < MinPBKDF2Iterations {
		iterations = MinPBKDF2Iterations
	}
	derivedKey := pbkdf2.Key([]byte(passphrase), salt, iterations, 32, sha256.New)
	return NewKeyCipher(derivedKey)
}

// KeyCipherFromSecret builds a cipher from configuration. A secret of exactly
// 32 bytes is used as the raw AES key; anything else is treated as a passphrase
// and stretched with PBKDF2 over salt.
func KeyCipherFromSecret(secret, salt string) (*KeyCipher, error) {
	if len(secret) == 32 {
		return NewKeyCipher([]byte(secret))
	}
	return DeriveKeyCipher(secret, []byte(salt), MinPBKDF2Iterations)
}

// EncryptPrivateKey seals a PEM private key. The output is
// base64url(nonce || ciphertext) with a fresh random nonce per call.
func (kc *KeyCipher) EncryptPrivateKey(privateKeyPEM string) (string, error) {
	if privateKeyPEM == "" {
		return "", ErrEmptyPlaintext
	}

	aead, err := kc.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := aead.Seal(nonce, nonce, []byte(privateKeyPEM), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// DecryptPrivateKey reverses EncryptPrivateKey.
func (kc *KeyCipher) DecryptPrivateKey(encoded string) (string, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil || len(ciphertext) == 0 {
		return "", ErrCiphertextCorrupted
	}

	aead, err := kc.aead()
	if err != nil {
		return "", err
	}

	nonceLen := aead.NonceSize()
	if len(ciphertext) <= nonceLen {
		return "", ErrCiphertextCorrupted
	}

	plaintext, err := aead.Open(nil, ciphertext[:nonceLen], ciphertext[nonceLen:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}

func (kc *KeyCipher) aead() (cipher.AEAD, error) {
	blockCipher, err := aes.NewCipher(kc.masterKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(blockCipher)
}

// GenerateKey creates a cryptographically secure random 32-byte key
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// GenerateSalt creates a cryptographically secure random salt
func GenerateSalt(length int) ([]byte, error) {
	if length < 16 {
		length = 16
	}
	salt := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}
