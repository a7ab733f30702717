package canon

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashBytes returns the SHA-256 of data as 64 lowercase hex digits.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Hash canonically encodes v and hashes the resulting bytes.
// This is the only path to a hash anywhere in the system.
func Hash(v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return HashBytes(data), nil
}

// MustHash is like Hash but panics on encoding failure.
// Use only in tests or on values known to be canonical.
func MustHash(v any) string {
	h, err := Hash(v)
	if err != nil {
		panic(err)
	}
	return h
}
