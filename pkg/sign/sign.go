// Package sign is the shared crypto kernel: HMAC signing for portal tokens,
// constant-time comparison, and one-way hashing of identifiers so that PII
// never reaches a log line or audit row in plaintext.
package sign

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HMAC computes the hex-encoded HMAC-SHA256 of data under secret.
func HMAC(secret, data []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyHMAC checks a hex signature against data in constant time.
func VerifyHMAC(secret, data []byte, signature string) bool {
	expected := HMAC(secret, data)
	return ConstantTimeEqual(expected, signature)
}

func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// HashIdentifier returns the hex SHA-256 of a case-folded identifier. Email
// addresses go through this before any logging or persistence; two spellings
// of the same address hash identically.
func HashIdentifier(id string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(id))))
	return hex.EncodeToString(sum[:])
}
