package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/veloprint/gateway/internal/domain/service"
	"github.com/veloprint/gateway/internal/infrastructure/resilience"
	"github.com/veloprint/gateway/internal/interfaces/http/middleware"
)

// OpsHandler exposes operational introspection: cache effectiveness, breaker
// states, error metrics, quota truth, and bridge counters.
type OpsHandler struct {
	cache    service.ResponseCache
	quota    service.QuotaGuard
	bridge   service.BridgeRegistry
	breaker  *resilience.CircuitBreaker
	executor *resilience.Executor
}

// NewOpsHandler wires the ops surface.
func NewOpsHandler(
	cache service.ResponseCache,
	quota service.QuotaGuard,
	bridge service.BridgeRegistry,
	breaker *resilience.CircuitBreaker,
	executor *resilience.Executor,
) *OpsHandler {
	return &OpsHandler{
		cache:    cache,
		quota:    quota,
		bridge:   bridge,
		breaker:  breaker,
		executor: executor,
	}
}

// CacheStats reports hit rates, footprint, and the tuning recommendation.
func (h *OpsHandler) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.cache.Stats(c.Request.Context()))
}

// InvalidateUser drops every cached response derived from the authenticated
// user, for use after an out-of-band data change.
func (h *OpsHandler) InvalidateUser(c *gin.Context) {
	subjectID := middleware.SubjectFrom(c)
	removed := h.cache.Invalidate(c.Request.Context(), subjectID)
	c.JSON(http.StatusOK, gin.H{
		"subject_id": subjectID,
		"removed":    removed,
	})
}

// ResilienceStats reports breaker states, per-operation error metrics, and
// the last confirmed quota snapshot.
func (h *OpsHandler) ResilienceStats(c *gin.Context) {
	snap := h.quota.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"circuits":          h.breaker.States(),
		"operations":        h.executor.AllMetrics(),
		"quota":             snap,
		"quota_utilization": snap.Utilization(),
		"bridge":            h.bridge.Stats(c.Request.Context()),
	})
}
