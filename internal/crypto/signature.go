package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
)

// RSAKeyBits is the modulus size of generated identity keys.
const RSAKeyBits = 2048

// ErrInvalidPrivateKey is returned by Sign when the PEM does not hold an RSA private key.
var ErrInvalidPrivateKey = errors.New("crypto: invalid RSA private key")

// GenerateKeyPair returns a fresh RSA key pair as PEM text: the public key in
// SPKI ("PUBLIC KEY") form and the private key in PKCS#8 ("PRIVATE KEY") form.
func GenerateKeyPair() (publicPEM, privatePEM string, err error) {
	key, err := rsa.GenerateKey(rand.Reader, RSAKeyBits)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate RSA key: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal private key: %w", err)
	}

	publicPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))
	privatePEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}))
	return publicPEM, privatePEM, nil
}

// Sign signs identifier with RSASSA-PKCS1-v1_5 over SHA-256 and returns the
// signature hex-encoded. The result is deterministic for a given key.
func Sign(identifier, privatePEM string) (string, error) {
	key, err := parsePrivateKey(privatePEM)
	if err != nil {
		return "", err
	}

	digest := sha256.Sum256([]byte(identifier))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign identifier: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

// Verify reports whether signatureHex is a valid signature of identifier by
// the holder of publicPEM. Malformed input of any kind yields false.
func Verify(identifier, signatureHex, publicPEM string) bool {
	sig, err := hex.DecodeString(signatureHex)
	if err != nil || len(sig) == 0 {
		return false
	}

	block, _ := pem.Decode([]byte(publicPEM))
	if block == nil {
		return false
	}

	var pub *rsa.PublicKey
	if parsed, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaPub, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return false
		}
		pub = rsaPub
	} else if rsaPub, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		pub = rsaPub
	} else {
		return false
	}

	digest := sha256.Sum256([]byte(identifier))
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig) == nil
}

func parsePrivateKey(privatePEM string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(privatePEM))
	if block == nil {
		return nil, ErrInvalidPrivateKey
	}

	if parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, ErrInvalidPrivateKey
		}
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, ErrInvalidPrivateKey
}

// Identity is the key material attached to a signed staff account. Only the
// encrypted form of the private key is carried.
type Identity struct {
	PublicKey           string
	EncryptedPrivateKey string
	Signature           string
}

// SignatureService binds identifiers to fresh key pairs and protects the
// private half with a KeyCipher.
type SignatureService struct {
	cipher *KeyCipher
}

// NewSignatureService creates a SignatureService.
func NewSignatureService(cipher *KeyCipher) *SignatureService {
	return &SignatureService{cipher: cipher}
}

// NewIdentity generates a key pair, signs identifier with it and encrypts the
// private key.
func (s *SignatureService) NewIdentity(identifier string) (*Identity, error) {
	publicPEM, privatePEM, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	sig, err := Sign(identifier, privatePEM)
	if err != nil {
		return nil, err
	}

	encrypted, err := s.cipher.EncryptPrivateKey(privatePEM)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt private key: %w", err)
	}

	return &Identity{
		PublicKey:           publicPEM,
		EncryptedPrivateKey: encrypted,
		Signature:           sig,
	}, nil
}

// PrivateKey recovers the plaintext PEM of an encrypted private key.
func (s *SignatureService) PrivateKey(encrypted string) (string, error) {
	return s.cipher.DecryptPrivateKey(encrypted)
}

// Verify checks a signature against a public key.
func (s *SignatureService) Verify(identifier, signatureHex, publicPEM string) bool {
	return Verify(identifier, signatureHex, publicPEM)
}
