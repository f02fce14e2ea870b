package crypto

import (
	"os"
	"path/filepath"
	"testing"
)

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestEncryptor_SealOpen(t *testing.T) {
	enc, err := NewEncryptorWithKey(testKey())
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}

	tests := []struct {
		name      string
		plaintext string
	}{
		{
			name:      "access token",
			plaintext: "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiI0MiJ9.sig",
		},
		{
			name:      "refresh token",
			plaintext: "rt_1234567890abcdef",
		},
		{
			name:      "unicode text",
			plaintext: "Hello, 世界!",
		},
		{
			name:      "empty string",
			plaintext: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := enc.Seal(tt.plaintext)
			if err != nil {
				t.Fatalf("seal failed: %v", err)
			}

			opened, err := enc.Open(sealed)
			if err != nil {
				t.Fatalf("open failed: %v", err)
			}
			if opened != tt.plaintext {
				t.Errorf("roundtrip failed: got %q, want %q", opened, tt.plaintext)
			}

			if tt.plaintext != "" && !IsSealed(sealed) {
				t.Errorf("sealed value %q lacks prefix", sealed)
			}
		})
	}
}

func TestEncryptor_OpenPlaintextPassthrough(t *testing.T) {
	enc, _ := NewEncryptorWithKey(testKey())

	got, err := enc.Open("legacy-token")
	if err != nil || got != "legacy-token" {
		t.Errorf("Open(plaintext) = %q, %v", got, err)
	}
}

func TestEncryptor_InvalidKey(t *testing.T) {
	if _, err := NewEncryptorWithKey([]byte("short")); err == nil {
		t.Error("expected error for short key")
	}
}

func TestEncryptor_InvalidCiphertext(t *testing.T) {
	enc, _ := NewEncryptorWithKey(make([]byte, 32))

	if _, err := enc.Open(sealedPrefix + "not-valid-base64!"); err == nil {
		t.Error("expected error for invalid base64")
	}

	// "Hello World" is shorter than a GCM nonce.
	if _, err := enc.Open(sealedPrefix + "SGVsbG8gV29ybGQ="); err != ErrInvalidCiphertext {
		t.Errorf("expected ErrInvalidCiphertext, got %v", err)
	}
}

func TestEncryptor_WrongKey(t *testing.T) {
	a, _ := NewEncryptorWithKey(testKey())
	b, _ := NewEncryptorWithKey(make([]byte, 32))

	sealed, _ := a.Seal("secret")
	if _, err := b.Open(sealed); err != ErrInvalidCiphertext {
		t.Errorf("Open() with wrong key error = %v", err)
	}
}

func TestEncryptor_DifferentCiphertexts(t *testing.T) {
	enc, _ := NewEncryptorWithKey(make([]byte, 32))

	ct1, _ := enc.Seal("same plaintext")
	ct2, _ := enc.Seal("same plaintext")
	if ct1 == ct2 {
		t.Error("expected different ciphertexts for same plaintext (different nonces)")
	}
}

func TestNewEncryptor_SaltInDataDir(t *testing.T) {
	dir := t.TempDir()

	a, err := NewEncryptor(dir)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}
	info, err := os.Stat(filepath.Join(dir, ".salt"))
	if err != nil {
		t.Fatalf("salt not created: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("salt mode = %v, want 0600", info.Mode().Perm())
	}

	// A second encryptor over the same directory opens the first one's values.
	b, err := NewEncryptor(dir)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}
	sealed, _ := a.Seal("token")
	if got, err := b.Open(sealed); err != nil || got != "token" {
		t.Errorf("Open() = %q, %v", got, err)
	}
}
