// Package secrets encrypts environment secret values with AES-GCM under a
// key derived from the configured master secret. Plaintext values are never
// stored or returned; decryption happens only at the point of use.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfIterations = 100_000
	saltSize      = 16
	keySize       = 32
)

// Cipher encrypts and decrypts secret values.
type Cipher struct {
	aead cipher.AEAD
}

// New derives the encryption key from master via PBKDF2 (SHA-256, 100k
// iterations). The salt is itself derived from the master so a restart with
// the same master secret can decrypt existing values.
func New(master string) (*Cipher, error) {
	if master == "" {
		return nil, fmt.Errorf("master secret is required")
	}

	saltDigest := sha256.Sum256([]byte("agentmesh-secret-salt:" + master))
	salt := saltDigest[:saltSize]

	key := pbkdf2.Key([]byte(master), salt, kdfIterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to build cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to build GCM: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("malformed secret value: %w", err)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", fmt.Errorf("malformed secret value: too short")
	}
	nonce, ciphertext := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return string(plaintext), nil
}
