// Package models defines the domain models for the gateway's credential and
// resilience layer.
package models

import (
	"time"

	"github.com/veloprint/gateway/pkg/errors"
)

// TokenRecord is the decrypted form of a session's upstream credentials.
// At rest it only ever exists as an EncryptedBlob.
type TokenRecord struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`

	// ExpiresAt is the access token expiry in epoch seconds. The boundary is
	// exclusive on the live side: a record with ExpiresAt == now is expired.
	ExpiresAt int64 `json:"expires_at"`

	// SubjectID is the upstream account this credential belongs to. Preserved
	// across refreshes.
	SubjectID int64  `json:"subject_id"`
	Scope     string `json:"scope,omitempty"`

	// SessionID binds the record to the session that stored it. A mismatch on
	// read invalidates the record (session fixation / replay defense).
	SessionID string `json:"session_id"`

	StoredAt  time.Time `json:"stored_at"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Validate checks the fields required before a record may be stored.
func (t *TokenRecord) Validate() error {
	if t.AccessToken == "" {
		return errors.ErrInvalidTokenData("access token is required")
	}
	if t.RefreshToken == "" {
		return errors.ErrInvalidTokenData("refresh token is required")
	}
	if t.ExpiresAt <= 0 {
		return errors.ErrInvalidTokenData("expires_at must be a positive epoch timestamp")
	}
	if t.SubjectID == 0 {
		return errors.ErrInvalidTokenData("subject id is required")
	}
	return nil
}

// IsExpired reports whether the access token is past its exact-second expiry.
func (t *TokenRecord) IsExpired(now time.Time) bool {
	return now.Unix() >= t.ExpiresAt
}

// MergeRefresh applies a refresh result in place, replacing tokens and expiry
// while preserving subject identity and the original StoredAt.
func (t *TokenRecord) MergeRefresh(accessToken, refreshToken string, expiresAt int64, now time.Time) {
	t.AccessToken = accessToken
	if refreshToken != "" {
		t.RefreshToken = refreshToken
	}
	t.ExpiresAt = expiresAt
	t.UpdatedAt = now
}

// SanitizedToken is the logging-safe projection of a TokenRecord. It carries
// no secret material.
type SanitizedToken struct {
	HasAccessToken  bool  `json:"has_access_token"`
	HasRefreshToken bool  `json:"has_refresh_token"`
	SubjectID       int64 `json:"subject_id"`
	ExpiresAt       int64 `json:"expires_at"`
	Expired         bool  `json:"expired"`
}

// Sanitize produces the logging-safe projection.
func (t *TokenRecord) Sanitize(now time.Time) SanitizedToken {
	return SanitizedToken{
		HasAccessToken:  t.AccessToken != "",
		HasRefreshToken: t.RefreshToken != "",
		SubjectID:       t.SubjectID,
		ExpiresAt:       t.ExpiresAt,
		Expired:         t.IsExpired(now),
	}
}

// EncryptedBlob is the only at-rest form of a TokenRecord: AES-GCM ciphertext
// with its nonce. The GCM tag is carried inside Ciphertext.
type EncryptedBlob struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}
