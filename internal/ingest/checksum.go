package ingest

import (
	"crypto/sha256"
	"encoding/hex"
)

// Checksum returns the hex sha256 digest of raw file bytes.
// Manifests and templates are hashed the same way so that any byte-level
// edit changes the fingerprint stamped on the generated specs.
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
