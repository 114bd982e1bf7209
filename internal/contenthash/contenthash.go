// Package contenthash computes the memory hash: the blake3 fingerprint
// that is the idempotency key for the whole pipeline.
package contenthash

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// Hex returns the lowercase blake3-256 hex digest of data.
func Hex(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
