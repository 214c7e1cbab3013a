// Package securerandom provides cryptographically secure random generation
package securerandom

import (
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
)

// ID generates a cryptographically secure random ID of the specified byte length.
// Returns a hex-encoded string (2x the byte length). Used for OAuth2 state
// parameters in invite URLs.
func ID(byteLen int) (string, error) {
	b := make([]byte, byteLen)
	if _, err := crand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random ID: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// MustID generates a random ID or panics
// Use only in initialization or when failure is unrecoverable
func MustID(byteLen int) string {
	id, err := ID(byteLen)
	if err != nil {
		panic(fmt.Sprintf("securerandom.ID failed: %v", err))
	}
	return id
}

// Bytes generates cryptographically secure random bytes
func Bytes(byteLen int) ([]byte, error) {
	b := make([]byte, byteLen)
	if _, err := crand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}

// MustBytes generates random bytes or panics
func MustBytes(byteLen int) []byte {
	b, err := Bytes(byteLen)
	if err != nil {
		panic(fmt.Sprintf("securerandom.Bytes failed: %v", err))
	}
	return b
}

// Nonce generates a random nonce. Voice encryption in the suffix mode
// appends a 24-byte random nonce to every packet.
func Nonce(byteLen int) ([]byte, error) {
	return Bytes(byteLen)
}

// MustNonce generates a nonce or panics
func MustNonce(byteLen int) []byte {
	return MustBytes(byteLen)
}
