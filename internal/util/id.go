package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random 32-character hex identifier, used for request
// ids and object keys.
func NewID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
