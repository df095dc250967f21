package ratelimit

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/veloprint/gateway/internal/domain/models"
	"github.com/veloprint/gateway/internal/domain/service"
	"github.com/veloprint/gateway/pkg/constants"
	"github.com/veloprint/gateway/pkg/errors"
	"github.com/veloprint/gateway/pkg/logger"
)

// UpstreamQuotaGuard tracks the provider's published usage headers and blocks
// new calls before the provider itself would return 429. The snapshot only
// advances from completed responses; a request that never finished tells us
// nothing about the quota.
type UpstreamQuotaGuard struct {
	mu       sync.RWMutex
	snapshot models.QuotaSnapshot
	log      logger.Logger
}

var _ service.QuotaGuard = (*UpstreamQuotaGuard)(nil)

// NewUpstreamQuotaGuard creates an empty guard; until the first response is
// observed every call is considered safe.
func NewUpstreamQuotaGuard(log logger.Logger) *UpstreamQuotaGuard {
	return &UpstreamQuotaGuard{log: log.WithComponent("quota")}
}

// Record parses the provider's usage/limit header pairs. The provider
// publishes the 15-minute and daily windows as comma-separated pairs, e.g.
// "X-RateLimit-Usage: 87,4120" against "X-RateLimit-Limit: 100,10000".
func (g *UpstreamQuotaGuard) Record(report models.UpstreamReport) {
	usageShort, usageDaily, okUsage := parsePair(headerValue(report.Headers, constants.HeaderUpstreamUsageShort))
	limitShort, limitDaily, okLimit := parsePair(headerValue(report.Headers, constants.HeaderUpstreamLimitShort))
	if !okUsage || !okLimit {
		return
	}

	g.mu.Lock()
	g.snapshot = models.QuotaSnapshot{
		UsageShort: usageShort,
		LimitShort: limitShort,
		UsageDaily: usageDaily,
		LimitDaily: limitDaily,
		ObservedAt: time.Now(),
	}
	snap := g.snapshot
	g.mu.Unlock()

	if snap.Utilization() >= constants.QuotaSafetyRatio {
		g.log.Warn(context.Background(), "upstream quota near exhaustion",
			logger.Int64("usage_short", snap.UsageShort),
			logger.Int64("limit_short", snap.LimitShort),
			logger.Int64("usage_daily", snap.UsageDaily),
			logger.Int64("limit_daily", snap.LimitDaily))
	}
}

// CheckSafe short-circuits new upstream calls once either published window is
// at or past the safety margin.
func (g *UpstreamQuotaGuard) CheckSafe() error {
	g.mu.RLock()
	snap := g.snapshot
	g.mu.RUnlock()

	if snap.ObservedAt.IsZero() {
		return nil
	}
	if snap.Utilization() < constants.QuotaSafetyRatio {
		return nil
	}

	return errors.ErrRateLimitProtection(retryHint(snap)).
		WithMetadata("usage_short", snap.UsageShort).
		WithMetadata("limit_short", snap.LimitShort).
		WithMetadata("usage_daily", snap.UsageDaily).
		WithMetadata("limit_daily", snap.LimitDaily)
}

// Snapshot returns the last confirmed quota truth.
func (g *UpstreamQuotaGuard) Snapshot() models.QuotaSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.snapshot
}

// retryHint suggests waiting out the rest of the 15-minute window when the
// short window is the binding one, and a longer pause when only the daily
// budget is exhausted.
func retryHint(snap models.QuotaSnapshot) time.Duration {
	shortRatio := 0.0
	if snap.LimitShort > 0 {
		shortRatio = float64(snap.UsageShort) / float64(snap.LimitShort)
	}
	if shortRatio >= constants.QuotaSafetyRatio {
		elapsed := time.Since(snap.ObservedAt)
		if remaining := 15*time.Minute - elapsed; remaining > 0 {
			return remaining
		}
		return time.Minute
	}
	return time.Hour
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	// header maps from generic callers may not be canonicalized
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func parsePair(raw string) (short, daily int64, ok bool) {
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return 0, 0, false
	}
	short, err1 := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	daily, err2 := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return short, daily, true
}
