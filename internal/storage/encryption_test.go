package storage

import (
	"encoding/base64"
	"errors"
	"testing"
)

func testEncryption(t *testing.T) *Encryption {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	enc, err := NewEncryption(key)
	if err != nil {
		t.Fatalf("Failed to create encryption: %v", err)
	}
	return enc
}

func TestEncryption_SealOpen(t *testing.T) {
	enc := testEncryption(t)

	secret := "sk-or-v1-0123456789abcdef"
	sealed, err := enc.Seal(secret, "key_1")
	if err != nil {
		t.Fatalf("Failed to seal: %v", err)
	}
	if sealed == secret {
		t.Fatal("Sealed value equals plaintext")
	}

	opened, err := enc.Open(sealed, "key_1")
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	if opened != secret {
		t.Errorf("Opened %q, want %q", opened, secret)
	}
}

func TestEncryption_BoundToRow(t *testing.T) {
	enc := testEncryption(t)

	sealed, err := enc.Seal("secret", "key_1")
	if err != nil {
		t.Fatalf("Failed to seal: %v", err)
	}

	if _, err := enc.Open(sealed, "key_2"); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("Expected ErrDecryptFailed for a different row, got %v", err)
	}
}

func TestEncryption_NonceIsRandom(t *testing.T) {
	enc := testEncryption(t)

	a, _ := enc.Seal("same", "key_1")
	b, _ := enc.Seal("same", "key_1")
	if a == b {
		t.Error("Two seals of the same secret produced identical ciphertext")
	}
}

func TestEncryption_OpenGarbage(t *testing.T) {
	enc := testEncryption(t)

	tests := []struct {
		name   string
		sealed string
	}{
		{"not base64", "%%%"},
		{"too short", base64.StdEncoding.EncodeToString([]byte("abc"))},
		{"tampered", base64.StdEncoding.EncodeToString(make([]byte, 40))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := enc.Open(tt.sealed, "key_1"); !errors.Is(err, ErrDecryptFailed) {
				t.Errorf("Expected ErrDecryptFailed, got %v", err)
			}
		})
	}
}

func TestEncryptionFromBase64(t *testing.T) {
	keyBase64, err := GenerateKey(32)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	enc, err := NewEncryptionFromBase64(keyBase64)
	if err != nil {
		t.Fatalf("Failed to create encryption from base64: %v", err)
	}

	sealed, err := enc.Seal("test-data", "row")
	if err != nil {
		t.Fatalf("Failed to seal: %v", err)
	}
	if opened, _ := enc.Open(sealed, "row"); opened != "test-data" {
		t.Errorf("Opened %q", opened)
	}

	if _, err := NewEncryptionFromBase64(""); err == nil {
		t.Error("Expected error for empty key")
	}
	if _, err := NewEncryptionFromBase64("not-base64!"); err == nil {
		t.Error("Expected error for invalid base64")
	}
}

func TestGenerateKey(t *testing.T) {
	for _, size := range []int{16, 24, 32} {
		key, err := GenerateKey(size)
		if err != nil {
			t.Fatalf("GenerateKey(%d) failed: %v", size, err)
		}
		raw, err := base64.StdEncoding.DecodeString(key)
		if err != nil {
			t.Fatalf("GenerateKey(%d) returned invalid base64: %v", size, err)
		}
		if len(raw) != size {
			t.Errorf("GenerateKey(%d) returned %d bytes", size, len(raw))
		}
	}

	if _, err := GenerateKey(20); err == nil {
		t.Error("Expected error for invalid key size")
	}
}

func TestInvalidKeySize(t *testing.T) {
	for _, size := range []int{0, 8, 15, 33, 64} {
		if _, err := NewEncryption(make([]byte, size)); err == nil {
			t.Errorf("Expected error for key size %d", size)
		}
	}
}

func TestEmptySecret(t *testing.T) {
	enc := testEncryption(t)

	sealed, err := enc.Seal("", "key_1")
	if err != nil {
		t.Fatalf("Failed to seal empty secret: %v", err)
	}
	opened, err := enc.Open(sealed, "key_1")
	if err != nil {
		t.Fatalf("Failed to open empty secret: %v", err)
	}
	if opened != "" {
		t.Errorf("Expected empty secret, got %q", opened)
	}
}
