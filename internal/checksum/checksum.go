// Package checksum provides the content digests used to detect changed
// articles and changed plain-text projections.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// String is Sum for text such as a document projection.
func String(s string) string {
	return Sum([]byte(s))
}
