// Package checksum fingerprints file content for listings.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

const shortLen = 12

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Short returns the first 12 hex digits of Sum.
func Short(data []byte) string {
	return Sum(data)[:shortLen]
}
