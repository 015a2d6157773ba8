// Package crypto seals session cookie bundles at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/timmy/twparser/internal/domain"
	"golang.org/x/crypto/hkdf"
)

const keyInfo = "twparser cookie sealing v1"

// ErrDecrypt is returned when a sealed value cannot be opened with the configured key.
var ErrDecrypt = errors.New("decrypt failed")

// Sealer encrypts cookie bundles with AES-256-GCM under a key derived from a secret.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives a 32-byte key from secret and salt with HKDF-SHA256.
func NewSealer(secret, salt string) (*Sealer, error) {
	if secret == "" {
		return nil, errors.New("crypto: empty secret")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), []byte(salt), []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("crypto: derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal returns base64(nonce || ciphertext).
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Any failure is reported as ErrDecrypt.
func (s *Sealer) Open(sealed string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	n := s.aead.NonceSize()
	if len(raw) < n {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	plain, err := s.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plain, nil
}

// SealCookies encodes cookies as JSON and seals them.
func (s *Sealer) SealCookies(cookies []domain.Cookie) (string, error) {
	data, err := json.Marshal(cookies)
	if err != nil {
		return "", fmt.Errorf("crypto: encode cookies: %w", err)
	}
	return s.Seal(data)
}

// OpenCookies opens a sealed cookie bundle.
func (s *Sealer) OpenCookies(sealed string) ([]domain.Cookie, error) {
	plain, err := s.Open(sealed)
	if err != nil {
		return nil, err
	}
	var cookies []domain.Cookie
	if err := json.Unmarshal(plain, &cookies); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return cookies, nil
}
