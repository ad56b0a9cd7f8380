package rangeproxy

import (
	"crypto/md5" //nolint:gosec // used as a filesystem-safe identifier, not for integrity
	"encoding/hex"
)

// Fingerprint returns the 32-character lowercase hex MD5 digest of the
// UTF-8 bytes of url. It names the ChunkStore directory for that URL.
//
// MD5 is used solely as a stable, filesystem-safe identifier. Collisions
// are not defended against: this package makes no integrity claims about
// cached bytes (see the chunkstore package docs).
func Fingerprint(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}
