// Package vault seals tenant-supplied upstream API keys with authenticated
// symmetric encryption (AES-256-GCM). The process-wide key comes from the
// ENCRYPTION_KEY environment variable as 32 bytes of base64.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidKey is returned by New when the key material is unusable.
var ErrInvalidKey = errors.New("vault: key must be 32 bytes of base64")

// ErrDecrypt is returned when a ciphertext fails authentication or is
// structurally invalid.
var ErrDecrypt = errors.New("vault: decrypt failed")

// Vault encrypts and decrypts short secrets. Safe for concurrent use.
type Vault struct {
	aead cipher.AEAD
}

// New builds a Vault from a base64-encoded 32-byte key.
func New(keyB64 string) (*Vault, error) {
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		// Keys generated by `openssl rand -base64 32` sometimes arrive
		// URL-safe encoded; accept both alphabets.
		key, err = base64.URLEncoding.DecodeString(keyB64)
		if err != nil {
			return nil, ErrInvalidKey
		}
	}
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: new gcm: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// GenerateKey returns a fresh random key in the encoding New accepts.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("vault: generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext || tag).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Any corruption of the
// nonce, payload, or tag yields ErrDecrypt.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecrypt
	}
	ns := v.aead.NonceSize()
	if len(sealed) < ns {
		return "", ErrDecrypt
	}
	plain, err := v.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
