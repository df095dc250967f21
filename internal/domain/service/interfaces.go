// Package service defines the service interfaces shared between the
// application and infrastructure layers.
package service

import (
	"context"
	"time"

	"github.com/veloprint/gateway/internal/domain/models"
)

// CryptoService provides authenticated symmetric encryption for token
// payloads. The key is read-only process-wide configuration; it is never
// derived from request data.
type CryptoService interface {
	// Encrypt serializes and seals a token record with a fresh random nonce.
	Encrypt(record *models.TokenRecord) (*models.EncryptedBlob, error)

	// Decrypt opens a blob. Tampering, a wrong key, or malformed input yield
	// a decryption error that callers must treat as "no token present".
	Decrypt(blob *models.EncryptedBlob) (*models.TokenRecord, error)
}

// SessionStore owns the server-side session state addressed by the cookie.
type SessionStore interface {
	// Create mints a new session with a fresh id and CSRF secret.
	Create(ctx context.Context) (*models.Session, error)

	// Get returns the session for an id, or nil when absent or swept.
	Get(ctx context.Context, id string) (*models.Session, error)

	// Save persists mutations made to a fetched session.
	Save(ctx context.Context, sess *models.Session) error

	// Rotate regenerates the session identifier in place, preserving all
	// other state. Must complete before any token write keyed to the new id.
	Rotate(ctx context.Context, sess *models.Session) (string, error)

	// Destroy removes the session.
	Destroy(ctx context.Context, id string) error
}

// TokenService is the credential layer: encrypted storage, validation, and
// refresh orchestration for a session's upstream tokens.
type TokenService interface {
	// StoreTokens validates, rotates the session id, and writes the blob
	// keyed to the new id.
	StoreTokens(ctx context.Context, sess *models.Session, record *models.TokenRecord) error

	// GetTokens decrypts the session's blob. A session-id mismatch is
	// treated as absent and clears the stale blob as a side effect.
	GetTokens(ctx context.Context, sess *models.Session) (*models.TokenRecord, error)

	// IsAuthenticated reports presence of a live (unexpired) credential.
	IsAuthenticated(ctx context.Context, sess *models.Session) bool

	// Refresh exchanges the refresh token for new credentials. Failure
	// leaves existing data in place for the caller to decide on.
	Refresh(ctx context.Context, sess *models.Session) error

	// ClearTokens drops the session's credential.
	ClearTokens(ctx context.Context, sess *models.Session) error
}

// TokenExchanger is the upstream OAuth client used by the token service.
type TokenExchanger interface {
	// Exchange swaps an authorization code for a credential.
	Exchange(ctx context.Context, code string) (*models.TokenRecord, error)

	// Refresh mints a new access token from a refresh token.
	Refresh(ctx context.Context, refreshToken string) (*models.TokenRecord, error)

	// Revoke invalidates a token upstream. Best effort on logout.
	Revoke(ctx context.Context, accessToken string) error
}

// BridgeRegistry is the short-lived token-to-session bridge for callers that
// cannot rely on cookies.
type BridgeRegistry interface {
	StoreToken(ctx context.Context, sessionID string, subjectID int64, snap models.TokenSnapshot) (*models.BridgeToken, error)
	GetTokenData(ctx context.Context, token string) (*models.BridgeToken, error)
	ExtendToken(ctx context.Context, token string) error
	RevokeSession(ctx context.Context, sessionID string) int
	Stats(ctx context.Context) models.BridgeStats
}

// RateLimitService is the sliding-window admission control shared by the
// client and OAuth scopes.
type RateLimitService interface {
	// Allow records an arrival and decides admission for the key within the
	// window/budget pair.
	Allow(ctx context.Context, key string, window time.Duration, max int) (models.AdmissionResult, error)

	// Reset drops the window for a key.
	Reset(ctx context.Context, key string) error
}

// QuotaGuard tracks the provider's published usage and pre-emptively blocks
// calls that would burn the shared quota.
type QuotaGuard interface {
	// Record advances the snapshot from a completed upstream response.
	Record(report models.UpstreamReport)

	// CheckSafe returns nil when a new upstream call may proceed, or a
	// rate_limit_protection error when usage is at or past the safety margin.
	CheckSafe() error

	// Snapshot returns the last confirmed quota truth.
	Snapshot() models.QuotaSnapshot
}

// CacheStats summarizes response-cache effectiveness for the ops surface.
type CacheStats struct {
	Hits           int64            `json:"hits"`
	Misses         int64            `json:"misses"`
	Sets           int64            `json:"sets"`
	HitRate        float64          `json:"hit_rate"`
	Entries        int              `json:"entries"`
	Evictions      map[string]int64 `json:"evictions"`
	ApproxBytes    int64            `json:"approx_bytes"`
	Recommendation string           `json:"recommendation,omitempty"`
}

// ResponseCache is the keyed, TTL-based cache-or-fetch wrapper around
// upstream calls.
type ResponseCache interface {
	// GetOrFetch returns the cached value within TTL or invokes producer and
	// stores the result under the namespace's TTL. Concurrent misses for one
	// key share a single producer call.
	GetOrFetch(ctx context.Context, namespace, key string, producer func(ctx context.Context) ([]byte, error)) ([]byte, error)

	// Invalidate drops all entries derived from the given user.
	Invalidate(ctx context.Context, subjectID int64) int

	// Stats reports hit rate, per-namespace evictions, and footprint.
	Stats(ctx context.Context) CacheStats
}
