// Package auth verifies API keys presented to the evaguard HTTP API.
package auth

// Hash types recognised by DetectHashType.
const (
	HashTypeArgon2id = "argon2id"
	HashTypeSHA256   = "sha256"
	HashTypeUnknown  = "unknown"
)

// APIKey is an accepted key as configured. Only the hash is ever stored.
type APIKey struct {
	// Name labels the key in logs and metrics.
	Name string
	// Hash is an Argon2id PHC string, "sha256:<hex>" or bare SHA-256 hex.
	Hash string
}
