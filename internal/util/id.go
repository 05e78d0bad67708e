package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewToken returns 32 random bytes hex encoded, used for opaque refresh tokens.
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NewID returns a random hex id, prefixed with "<prefix>_" when prefix is set.
func NewID(prefix string) string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	if prefix == "" {
		return hex.EncodeToString(b)
	}
	return prefix + "_" + hex.EncodeToString(b)
}
