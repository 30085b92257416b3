// Package corpus segments raw legal text into addressable citable units
// and computes the content fingerprints used for change detection.
package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"unicode/utf8"

	"github.com/rotisserie/eris"
)

// Hash returns the SHA-256 digest of data as a lowercase hex string.
// Pure and deterministic: identical bytes always yield identical hashes,
// so re-ingesting unchanged content is detectable by exact match.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString hashes a text fingerprint. Invalid UTF-8 input is rejected
// rather than silently hashed, since a mangled fetch must not masquerade
// as a legitimate content change.
func HashString(s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", eris.New("corpus: hash input is not valid UTF-8")
	}
	return Hash([]byte(s)), nil
}
