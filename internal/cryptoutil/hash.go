package cryptoutil

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256Hex computes the SHA-256 hash of the input data and returns it as a hex string
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Fingerprint returns the first 12 hex characters of SHA-256(secret), safe
// to log when correlating which secret a session used.
func Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	return SHA256Hex([]byte(secret))[:12]
}

// DeriveKey returns the AES-256 key for a project secret: SHA-256(secret).
func DeriveKey(secret string) []byte {
	k := sha256.Sum256([]byte(secret))
	return k[:]
}
