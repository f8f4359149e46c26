package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashParts returns the hex sha256 of parts joined by a unit separator, so
// ("ab", "c") and ("a", "bc") hash differently.
func HashParts(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// ShortHash keeps the first n hex characters of HashParts.
func ShortHash(n int, parts ...string) string {
	h := HashParts(parts...)
	if n <= 0 || n >= len(h) {
		return h
	}
	return h[:n]
}
