// Package hash computes SHA-256 content fingerprints and decides whether a
// source file has to be re-chunked and re-embedded.
package hash

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Fingerprint is the lowercase hex SHA-256 digest of some content.
type Fingerprint string

// Size is the length of a Fingerprint in characters.
const Size = sha256.Size * 2

// Bytes fingerprints b.
func Bytes(b []byte) Fingerprint {
	sum := sha256.Sum256(b)
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// String fingerprints s.
func String(s string) Fingerprint {
	return Bytes([]byte(s))
}

// Reader streams r through SHA-256.
func Reader(r io.Reader) (Fingerprint, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil))), nil
}

// File fingerprints the file at path without loading it into memory.
func File(path string) (Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	return Reader(f)
}

// Equal reports whether a and b are the same non-empty fingerprint.
func Equal(a, b Fingerprint) bool {
	if a == "" || b == "" || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Valid reports whether f looks like a SHA-256 hex digest.
func (f Fingerprint) Valid() bool {
	if len(f) != Size {
		return false
	}
	_, err := hex.DecodeString(string(f))
	return err == nil
}

// Short returns the first 12 characters, for logs.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}
