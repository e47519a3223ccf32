// Package sha256 names archived page snapshots by content digest.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements catalog.Hasher.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex digest of data.
func (Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
