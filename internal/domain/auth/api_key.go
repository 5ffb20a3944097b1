package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// ErrInvalidKey is returned when no configured key matches.
var ErrInvalidKey = errors.New("invalid api key")

// ErrUnknownHashType is returned when a stored hash has an unrecognized format.
var ErrUnknownHashType = errors.New("unknown hash type")

// KeyRing holds the configured API keys.
// SHA-256 keys are indexed for a direct lookup; Argon2id keys are verified
// one by one because their salts differ.
type KeyRing struct {
	sha256Keys map[string]APIKey
	argonKeys  []APIKey
}

// NewKeyRing builds a KeyRing, rejecting hashes of unknown format.
func NewKeyRing(keys []APIKey) (*KeyRing, error) {
	ring := &KeyRing{sha256Keys: make(map[string]APIKey)}
	for _, k := range keys {
		switch DetectHashType(k.Hash) {
		case HashTypeSHA256:
			ring.sha256Keys[strings.ToLower(strings.TrimPrefix(k.Hash, "sha256:"))] = k
		case HashTypeArgon2id:
			ring.argonKeys = append(ring.argonKeys, k)
		default:
			return nil, fmt.Errorf("key %q: %w", k.Name, ErrUnknownHashType)
		}
	}
	return ring, nil
}

// Empty reports whether no keys are configured.
func (r *KeyRing) Empty() bool {
	return r == nil || (len(r.sha256Keys) == 0 && len(r.argonKeys) == 0)
}

// Verify returns the key matching rawKey, or ErrInvalidKey.
func (r *KeyRing) Verify(rawKey string) (APIKey, error) {
	if r.Empty() || rawKey == "" {
		return APIKey{}, ErrInvalidKey
	}

	digest := HashKey(rawKey)
	for stored, k := range r.sha256Keys {
		if subtle.ConstantTimeCompare([]byte(stored), []byte(digest)) == 1 {
			return k, nil
		}
	}

	for _, k := range r.argonKeys {
		if ok, err := safeArgon2idCompare(rawKey, k.Hash); err == nil && ok {
			return k, nil
		}
	}
	return APIKey{}, ErrInvalidKey
}

// HashKey returns the SHA-256 hex digest of the raw key.
func HashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// argon2idParams follows the OWASP minimum for Argon2id.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashKeyArgon2id returns an Argon2id hash of the raw key in PHC format:
// $argon2id$v=19$m=47104,t=1,p=1$<salt>$<hash>
func HashKeyArgon2id(rawKey string) (string, error) {
	return argon2id.CreateHash(rawKey, argon2idParams)
}

// DetectHashType identifies the algorithm of a stored hash.
func DetectHashType(storedHash string) string {
	switch {
	case strings.HasPrefix(storedHash, "$argon2id$"):
		return HashTypeArgon2id
	case strings.HasPrefix(storedHash, "sha256:"):
		if isSHA256Hex(strings.TrimPrefix(storedHash, "sha256:")) {
			return HashTypeSHA256
		}
		return HashTypeUnknown
	case isSHA256Hex(storedHash):
		return HashTypeSHA256
	default:
		return HashTypeUnknown
	}
}

func isSHA256Hex(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// VerifyKey verifies a raw key against a single stored hash.
func VerifyKey(rawKey, storedHash string) (bool, error) {
	switch DetectHashType(storedHash) {
	case HashTypeArgon2id:
		return safeArgon2idCompare(rawKey, storedHash)
	case HashTypeSHA256:
		expected := strings.ToLower(strings.TrimPrefix(storedHash, "sha256:"))
		return subtle.ConstantTimeCompare([]byte(HashKey(rawKey)), []byte(expected)) == 1, nil
	default:
		return false, ErrUnknownHashType
	}
}

// safeArgon2idCompare converts panics from malformed PHC parameters
// (t=0, p=0) into errors.
func safeArgon2idCompare(rawKey, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawKey, storedHash)
}
