package db

import (
	"crypto/rand"
)

const idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// randomID returns n characters drawn uniformly from the fixed alphanumeric
// alphabet used for document, collection and subscription identifiers.
func randomID(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the platform entropy source is
		// broken, which is not recoverable here.
		panic("db: entropy source unavailable: " + err.Error())
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(out)
}

// newDocumentID mints a 32-character document or collection identifier.
func newDocumentID() string { return randomID(32) }

// newSubscriptionID mints a 16-character subscription identifier.
func newSubscriptionID() string { return randomID(16) }
