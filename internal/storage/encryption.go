package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrDecryptFailed is returned when a stored secret cannot be opened
var ErrDecryptFailed = errors.New("failed to decrypt credential")

// Encryption seals vendor credentials with AES-GCM before they reach the database.
// Each ciphertext is bound to the id of the row it belongs to, so a value
// copied onto another row will not decrypt.
type Encryption struct {
	aead cipher.AEAD
}

func validKeySize(n int) bool {
	return n == 16 || n == 24 || n == 32
}

// NewEncryption creates an encryption service. key must be 16, 24 or 32 bytes.
func NewEncryption(key []byte) (*Encryption, error) {
	if !validKeySize(len(key)) {
		return nil, fmt.Errorf("invalid key size: must be 16, 24, or 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Encryption{aead: aead}, nil
}

// NewEncryptionFromBase64 creates an encryption service from a base64 key, as stored in ENCRYPTION_KEY
func NewEncryptionFromBase64(encodedKey string) (*Encryption, error) {
	if encodedKey == "" {
		return nil, fmt.Errorf("encryption key cannot be empty")
	}

	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 key: %w", err)
	}

	return NewEncryption(key)
}

// GenerateKey returns a random base64 key of keySize bytes
func GenerateKey(keySize int) (string, error) {
	if !validKeySize(keySize) {
		return "", fmt.Errorf("invalid key size: must be 16, 24, or 32 bytes")
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate random key: %w", err)
	}

	return base64.StdEncoding.EncodeToString(key), nil
}

// Seal encrypts secret for the row identified by rowID and returns base64(nonce|ciphertext)
func (e *Encryption) Seal(secret, rowID string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := e.aead.Seal(nonce, nonce, []byte(secret), []byte(rowID))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. The rowID must match the one used when sealing.
func (e *Encryption) Open(sealed, rowID string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}

	nonceSize := e.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptFailed)
	}

	plaintext, err := e.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], []byte(rowID))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	return string(plaintext), nil
}
