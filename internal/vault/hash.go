package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// Hash returns the hex-encoded SHA-256 digest of content. Every change
// detection decision in the sync engine reduces to comparing these digests.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// HashReader returns the hex-encoded SHA-256 digest of everything read from r.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
