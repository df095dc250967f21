package models

import (
	"time"
)

// Session is the server-side state addressed by the first-party cookie. The
// gateway owns at most one token blob and one CSRF secret per session.
type Session struct {
	// ID is the opaque identifier carried by the cookie. Regenerated on
	// security-sensitive transitions (post-login rotation).
	ID string

	// CreatedAt is set on first touch and never moves; the hard max-age
	// cutoff is measured against it, independent of token expiry.
	CreatedAt time.Time

	// LastSeenAt drives idle eviction.
	LastSeenAt time.Time

	// CSRFSecret is minted at session start.
	CSRFSecret string

	// TokenBlob is the encrypted credential, nil when unauthenticated.
	TokenBlob *EncryptedBlob

	// Meta carries the anomaly heuristic state.
	Meta SessionMeta
}

// SessionMeta tracks last-seen request characteristics for drift detection.
// A flagged session is logged, never blocked on this signal alone.
type SessionMeta struct {
	UserAgent    string
	IP           string
	RequestCount int64
	Flagged      bool
	FlagReason   string
}

// Age returns how long the session has existed.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}
