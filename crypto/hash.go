// Package crypto holds the hashing primitive shared by blocks, transactions
// and the state root.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the SHA-256 hash of data as a lowercase hex string.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

