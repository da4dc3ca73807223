// Package crypto holds the hashing and comparison primitives used by the
// Telegram verifier and the refresh token store.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HMACSHA256 returns HMAC-SHA256 of message under key. Empty inputs are valid.
func HMACSHA256(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

// ConstantTimeEquals compares a and b in time independent of their contents.
// Slices of different length are unequal.
func ConstantTimeEquals(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// ConstantTimeEqualsString is ConstantTimeEquals for strings.
func ConstantTimeEqualsString(a, b string) bool {
	return ConstantTimeEquals([]byte(a), []byte(b))
}

// SHA256Hex returns the lowercase hex SHA-256 digest of s.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
