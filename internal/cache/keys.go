package cache

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

// Fingerprint derives a deterministic cache key from an identifier. The
// identifier should already be canonicalized by the caller (e.g. a
// normalized arXiv ID or repository URL) so that equivalent inputs hash to
// the same key; Fingerprint itself only trims whitespace and lowercases.
func Fingerprint(identifier string) string {
	norm := strings.ToLower(strings.TrimSpace(identifier))
	sum := blake3.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:16])
}
