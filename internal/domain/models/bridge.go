package models

import "time"

// BridgeToken lets a caller without first-party cookies prove recent
// authentication. It lives only in process memory, carries a snapshot of the
// credential at issuance, and is extendable on use within its short TTL.
//
// Trust boundary: possession of the token value grants access for its
// lifetime with no additional binding to the originating host. Issuance and
// extension are therefore logged for audit.
type BridgeToken struct {
	// Token is the random value, 256 bits of entropy.
	Token string

	SessionID string
	SubjectID int64

	// Snapshot is the credential state at issuance.
	Snapshot TokenSnapshot

	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastExtendedAt time.Time
}

// TokenSnapshot captures the access/refresh/expiry triple at bridge issuance.
type TokenSnapshot struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
}

// IsExpired reports whether the bridge token is past its TTL.
func (b *BridgeToken) IsExpired(now time.Time) bool {
	return !now.Before(b.ExpiresAt)
}

// BridgeStats summarizes registry state for the ops surface.
type BridgeStats struct {
	Active   int   `json:"active"`
	Issued   int64 `json:"issued"`
	Extended int64 `json:"extended"`
	Expired  int64 `json:"expired"`
	Revoked  int64 `json:"revoked"`
}
