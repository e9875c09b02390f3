package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// ErrDecryptFailed is returned when a sealed value cannot be opened, either
// because it was tampered with or sealed under a different secret.
var ErrDecryptFailed = errors.New("failed to decrypt sealed value")

// keySalt fixes the argon2 derivation so the same secret always yields the
// same sealing key across restarts.
var keySalt = []byte("authgate/session/v1")

// Codec seals and opens short values with AES-GCM under a key derived from
// the session secret.
type Codec struct {
	key []byte
}

// NewCodec derives the sealing key from secret via argon2id.
func NewCodec(secret string) *Codec {
	key := argon2.IDKey([]byte(secret), keySalt, 1, 64*1024, 4, 32)
	return &Codec{key: key}
}

// Seal encrypts plaintext and returns a URL-safe token of nonce||ciphertext.
func (c *Codec) Seal(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to init GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a token produced by Seal.
func (c *Codec) Open(token string) ([]byte, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrDecryptFailed
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to init GCM: %w", err)
	}

	if len(sealed) < gcm.NonceSize() {
		return nil, ErrDecryptFailed
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}
