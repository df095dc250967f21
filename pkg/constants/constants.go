// Package constants defines system-wide constants for the gateway.
// This package provides type-safe constant definitions used across all modules.
package constants

import "time"

// ================================================================================
// Context Key Constants
// ================================================================================

// ContextKey is a dedicated type for request-scoped context values.
type ContextKey string

const (
	// ContextKeyRequestID carries the per-request correlation identifier.
	ContextKeyRequestID ContextKey = "request_id"

	// ContextKeySessionID carries the current session identifier.
	ContextKeySessionID ContextKey = "session_id"

	// ContextKeySubjectID carries the authenticated upstream subject.
	ContextKeySubjectID ContextKey = "subject_id"

	// ContextKeyAuthSource records which credential path satisfied the request
	// ("session" or "bridge").
	ContextKeyAuthSource ContextKey = "auth_source"
)

// ================================================================================
// Cache Namespace Constants
// ================================================================================

// CacheNamespace groups cached upstream responses by resource volatility.
type CacheNamespace string

const (
	// NamespaceActivityDetail holds immutable historical resources (longest TTL).
	NamespaceActivityDetail CacheNamespace = "activity_detail"

	// NamespaceActivityStream holds immutable raw sample streams.
	NamespaceActivityStream CacheNamespace = "activity_stream"

	// NamespaceActivityList holds user-mutable listings (shortest TTL).
	NamespaceActivityList CacheNamespace = "activity_list"

	// NamespaceAthleteProfile holds slowly-changing profile data.
	NamespaceAthleteProfile CacheNamespace = "athlete_profile"

	// NamespaceAthleteStats holds aggregate counters that move with every upload.
	NamespaceAthleteStats CacheNamespace = "athlete_stats"
)

// ================================================================================
// Rate Limit Scope Constants
// ================================================================================

// RateLimitScope identifies which admission window a request is counted against.
type RateLimitScope string

const (
	// ScopeClient is the general per-client sliding window.
	ScopeClient RateLimitScope = "client"

	// ScopeOAuth is the dedicated, smaller window guarding the authorization
	// and callback endpoints.
	ScopeOAuth RateLimitScope = "oauth"

	// ScopeUpstream is the provider-quota protection circuit.
	ScopeUpstream RateLimitScope = "upstream"
)

// ================================================================================
// Default Tunables
// ================================================================================

const (
	// DefaultClientWindow is the sliding window for client admission control.
	DefaultClientWindow = 15 * time.Minute

	// DefaultClientMaxRequests is the request budget per client window.
	DefaultClientMaxRequests = 50

	// DefaultOAuthWindow is the sliding window for the auth endpoints.
	DefaultOAuthWindow = 15 * time.Minute

	// DefaultOAuthMaxRequests is the request budget for the auth endpoints.
	DefaultOAuthMaxRequests = 10

	// RateWindowIdleEviction drops client windows with no activity for this long.
	RateWindowIdleEviction = 24 * time.Hour

	// QuotaSafetyRatio marks the upstream quota unsafe at or above this fraction
	// of either published window.
	QuotaSafetyRatio = 0.90

	// DefaultSessionMaxAge is the hard session cutoff, independent of token expiry.
	DefaultSessionMaxAge = 7 * 24 * time.Hour

	// DefaultBridgeTokenTTL is the cross-domain token lifetime.
	DefaultBridgeTokenTTL = 10 * time.Minute

	// BridgeTokenBytes is the entropy of a cross-domain token (256 bits).
	BridgeTokenBytes = 32

	// DefaultUpstreamTimeout bounds any single upstream round trip.
	DefaultUpstreamTimeout = 30 * time.Second

	// DefaultRevokeTimeout bounds the best-effort revoke on logout.
	DefaultRevokeTimeout = 5 * time.Second

	// MaxRetryDelay is the hard ceiling for any computed backoff delay.
	MaxRetryDelay = 30 * time.Second

	// StateTokenTTL bounds the signed OAuth state parameter.
	StateTokenTTL = 10 * time.Minute
)

// ================================================================================
// HTTP Header Constants
// ================================================================================

const (
	// HeaderRateLimitLimit reports the client window budget.
	HeaderRateLimitLimit = "X-RateLimit-Limit"

	// HeaderRateLimitRemaining reports the remaining budget in the window.
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"

	// HeaderRateLimitReset reports the window reset time (unix seconds).
	HeaderRateLimitReset = "X-RateLimit-Reset"

	// HeaderRetryAfter is the standard backoff hint on rejection.
	HeaderRetryAfter = "Retry-After"

	// HeaderCSRFToken carries the per-session CSRF token on mutating requests.
	HeaderCSRFToken = "X-CSRF-Token"

	// HeaderBridgeToken carries a cross-domain token for cookie-less callers.
	HeaderBridgeToken = "X-Bridge-Token"

	// HeaderRequestID carries the correlation id back to the caller.
	HeaderRequestID = "X-Request-ID"

	// HeaderUpstreamUsageShort is the provider's 15-minute usage/limit pair.
	HeaderUpstreamUsageShort = "X-RateLimit-Usage"

	// HeaderUpstreamLimitShort is the provider's published limit pair.
	HeaderUpstreamLimitShort = "X-RateLimit-Limit"
)

// ================================================================================
// Session Constants
// ================================================================================

const (
	// SessionCookieName is the first-party session cookie.
	SessionCookieName = "gw_session"

	// CSRFFieldName is the accepted form field for CSRF tokens.
	CSRFFieldName = "csrf_token"

	// AnomalyRequestThreshold flags a session whose request count exceeds this.
	AnomalyRequestThreshold = 10000
)

// LogLevel represents the logging verbosity.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	LogLevelFatal
)
