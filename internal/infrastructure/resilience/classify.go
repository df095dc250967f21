// Package resilience provides error classification, retry with configurable
// backoff, circuit breaking, and graceful degradation for upstream-facing
// operations.
package resilience

import (
	"context"
	"errors"
	"net"
	"strings"

	gwerrors "github.com/veloprint/gateway/pkg/errors"
)

// ErrorClass is the fixed failure taxonomy every raw error maps into.
type ErrorClass string

const (
	ClassNetwork   ErrorClass = "network"
	ClassTimeout   ErrorClass = "timeout"
	ClassRateLimit ErrorClass = "ratelimit"
	ClassUpstream  ErrorClass = "upstream"
	ClassFormat    ErrorClass = "format"
	ClassStorage   ErrorClass = "storage"
	ClassCrypto    ErrorClass = "crypto"
	ClassUnknown   ErrorClass = "unknown"
)

// Severity ranks how loudly a failure should be reported.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Classification carries the retry policy attached to an error class.
type Classification struct {
	Class             ErrorClass
	Severity          Severity
	Retryable         bool
	MaxRetries        int
	BackoffMultiplier float64
}

// policies is the fixed class table. Rate-limit errors back off far harder
// than plain network blips.
var policies = map[ErrorClass]Classification{
	ClassNetwork:   {ClassNetwork, SeverityMedium, true, 3, 2.0},
	ClassTimeout:   {ClassTimeout, SeverityMedium, true, 2, 2.0},
	ClassRateLimit: {ClassRateLimit, SeverityHigh, true, 1, 8.0},
	ClassUpstream:  {ClassUpstream, SeverityHigh, true, 3, 3.0},
	ClassFormat:    {ClassFormat, SeverityLow, false, 0, 1.0},
	ClassStorage:   {ClassStorage, SeverityHigh, true, 2, 2.0},
	ClassCrypto:    {ClassCrypto, SeverityCritical, false, 0, 1.0},
	ClassUnknown:   {ClassUnknown, SeverityMedium, false, 0, 1.0},
}

// Classify maps a raw failure to its class and policy. Gateway errors carry
// their category directly; foreign errors are matched on type and message
// signature.
func Classify(err error) Classification {
	if err == nil {
		return policies[ClassUnknown]
	}

	switch gwerrors.CodeOf(err) {
	case gwerrors.CodeClientRateLimited, gwerrors.CodeUpstreamRateLimited, gwerrors.CodeRateLimitProtection:
		return policies[ClassRateLimit]
	case gwerrors.CodeUpstreamUnavailable, gwerrors.CodeCircuitOpen:
		return policies[ClassUpstream]
	case gwerrors.CodeNetworkError:
		return policies[ClassNetwork]
	case gwerrors.CodeInvalidTokenData:
		return policies[ClassFormat]
	case gwerrors.CodeUpstreamRejected:
		return policies[ClassUnknown]
	case gwerrors.CodeDecryptionFailed:
		return policies[ClassCrypto]
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return policies[ClassTimeout]
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return policies[ClassTimeout]
		}
		return policies[ClassNetwork]
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return policies[ClassTimeout]
	case containsAny(msg, "connection refused", "connection reset", "no such host", "broken pipe", "network"):
		return policies[ClassNetwork]
	case containsAny(msg, "too many requests", "rate limit", "quota"):
		return policies[ClassRateLimit]
	case containsAny(msg, "bad gateway", "service unavailable", "upstream"):
		return policies[ClassUpstream]
	case containsAny(msg, "unmarshal", "parse", "invalid character", "malformed"):
		return policies[ClassFormat]
	case containsAny(msg, "redis", "storage", "i/o"):
		return policies[ClassStorage]
	}

	return policies[ClassUnknown]
}

// PolicyFor returns the fixed policy for a class.
func PolicyFor(class ErrorClass) Classification {
	if p, ok := policies[class]; ok {
		return p
	}
	return policies[ClassUnknown]
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
