// Package utils provides small helpers shared across the gateway.
package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// RandomToken returns a URL-safe random token with n bytes of entropy.
func RandomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// MustRandomToken is RandomToken for call sites where entropy failure is fatal
// anyway (process startup).
func MustRandomToken(n int) string {
	tok, err := RandomToken(n)
	if err != nil {
		panic(err)
	}
	return tok
}

// ClientIdentifier derives the composite admission-control key from the
// request's network address, user agent, and session. The user agent is
// truncated so that absurdly long strings cannot bloat the window map.
func ClientIdentifier(ip, userAgent, sessionID string) string {
	if len(userAgent) > 64 {
		userAgent = userAgent[:64]
	}
	sum := sha256.Sum256([]byte(ip + "|" + userAgent + "|" + sessionID))
	return hex.EncodeToString(sum[:16])
}

// MaskSecret partially masks a secret for log output.
func MaskSecret(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "***" + s[len(s)-4:]
}
