package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestHashKey(t *testing.T) {
	// SHA-256 of the empty string.
	const emptyDigest = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := HashKey(""); got != emptyDigest {
		t.Errorf("HashKey(\"\") = %q, want %q", got, emptyDigest)
	}
	if HashKey("a") == HashKey("b") {
		t.Error("different keys produced the same digest")
	}
}

func TestHashKeyArgon2id(t *testing.T) {
	rawKey := "test-api-key-secure-12345"

	hash, err := HashKeyArgon2id(rawKey)
	if err != nil {
		t.Fatalf("HashKeyArgon2id() error = %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Errorf("HashKeyArgon2id() = %q, want prefix $argon2id$", hash)
	}

	hash2, err := HashKeyArgon2id(rawKey)
	if err != nil {
		t.Fatalf("HashKeyArgon2id() second call error = %v", err)
	}
	if hash == hash2 {
		t.Error("HashKeyArgon2id() produced identical hashes - should use random salt")
	}
}

func TestDetectHashType(t *testing.T) {
	digest := HashKey("k")

	tests := []struct {
		name string
		hash string
		want string
	}{
		{"argon2id PHC format", "$argon2id$v=19$m=47104,t=1,p=1$abc123$xyz789", HashTypeArgon2id},
		{"sha256 prefixed", "sha256:" + digest, HashTypeSHA256},
		{"bare sha256 hex", digest, HashTypeSHA256},
		{"upper-case hex", strings.ToUpper(digest), HashTypeSHA256},
		{"sha256 prefix with short digest", "sha256:abc123", HashTypeUnknown},
		{"too short", "abc123", HashTypeUnknown},
		{"wrong prefix", "$bcrypt$abc123", HashTypeUnknown},
		{"64 non-hex chars", strings.Repeat("z", 64), HashTypeUnknown},
		{"empty", "", HashTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectHashType(tt.hash); got != tt.want {
				t.Errorf("DetectHashType(%q) = %q, want %q", tt.hash, got, tt.want)
			}
		})
	}
}

func TestVerifyKey(t *testing.T) {
	rawKey := "test-api-key-verify-12345"
	argon2Hash, err := HashKeyArgon2id(rawKey)
	if err != nil {
		t.Fatalf("HashKeyArgon2id() setup error = %v", err)
	}

	tests := []struct {
		name       string
		rawKey     string
		storedHash string
		wantMatch  bool
		wantErr    error
	}{
		{"argon2id correct key", rawKey, argon2Hash, true, nil},
		{"argon2id wrong key", "wrong-key", argon2Hash, false, nil},
		{"sha256 prefixed correct key", rawKey, "sha256:" + HashKey(rawKey), true, nil},
		{"bare sha256 correct key", rawKey, HashKey(rawKey), true, nil},
		{"sha256 wrong key", "wrong-key", HashKey(rawKey), false, nil},
		{"unknown format", rawKey, "plaintext", false, ErrUnknownHashType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, err := VerifyKey(tt.rawKey, tt.storedHash)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("VerifyKey() error = %v, want %v", err, tt.wantErr)
			}
			if match != tt.wantMatch {
				t.Errorf("VerifyKey() match = %v, want %v", match, tt.wantMatch)
			}
		})
	}
}

func TestVerifyKey_MalformedArgon2idDoesNotPanic(t *testing.T) {
	match, err := VerifyKey("k", "$argon2id$v=19$m=47104,t=0,p=0$c2FsdHNhbHQ$aGFzaGhhc2g")
	if match {
		t.Error("malformed hash should not match")
	}
	if err == nil {
		t.Error("malformed hash should return an error")
	}
}

func TestKeyRing_Verify(t *testing.T) {
	argon2Hash, err := HashKeyArgon2id("argon-secret")
	if err != nil {
		t.Fatalf("HashKeyArgon2id() error = %v", err)
	}

	ring, err := NewKeyRing([]APIKey{
		{Name: "ci", Hash: "sha256:" + HashKey("ci-secret")},
		{Name: "ops", Hash: argon2Hash},
	})
	if err != nil {
		t.Fatalf("NewKeyRing() error = %v", err)
	}
	if ring.Empty() {
		t.Fatal("ring should not be empty")
	}

	tests := []struct {
		rawKey   string
		wantName string
		wantErr  error
	}{
		{"ci-secret", "ci", nil},
		{"argon-secret", "ops", nil},
		{"nope", "", ErrInvalidKey},
		{"", "", ErrInvalidKey},
	}
	for _, tt := range tests {
		t.Run(tt.rawKey, func(t *testing.T) {
			k, err := ring.Verify(tt.rawKey)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Verify() error = %v, want %v", err, tt.wantErr)
			}
			if k.Name != tt.wantName {
				t.Errorf("Verify() name = %q, want %q", k.Name, tt.wantName)
			}
		})
	}
}

func TestNewKeyRing_RejectsUnknownHash(t *testing.T) {
	_, err := NewKeyRing([]APIKey{{Name: "bad", Hash: "plaintext"}})
	if !errors.Is(err, ErrUnknownHashType) {
		t.Errorf("NewKeyRing() error = %v, want ErrUnknownHashType", err)
	}
}

func TestKeyRing_EmptyRejectsEverything(t *testing.T) {
	ring, err := NewKeyRing(nil)
	if err != nil {
		t.Fatalf("NewKeyRing(nil) error = %v", err)
	}
	if !ring.Empty() {
		t.Error("ring should be empty")
	}
	if _, err := ring.Verify("anything"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Verify() error = %v, want ErrInvalidKey", err)
	}
}
