package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	startedAt time.Time
	version   string

	// redisClient is nil when the gateway runs without Redis.
	redisClient *redis.Client
}

// NewHealthHandler wires the probes.
func NewHealthHandler(version string, redisClient *redis.Client) *HealthHandler {
	return &HealthHandler{
		startedAt:   time.Now(),
		version:     version,
		redisClient: redisClient,
	}
}

// Live reports process liveness.
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": h.version,
		"uptime":  time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// Ready reports readiness, probing Redis when configured. Without Redis the
// gateway is ready as soon as it serves.
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.redisClient != nil {
		if err := h.redisClient.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "degraded",
				"redis":  err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
