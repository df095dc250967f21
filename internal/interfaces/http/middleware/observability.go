// Package middleware provides the gin middleware chain: observability,
// session establishment, CSRF, rate limiting, and credential resolution.
package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/veloprint/gateway/pkg/constants"
	"github.com/veloprint/gateway/pkg/logger"
)

// RequestID assigns a correlation id to every request, honoring one supplied
// by a trusted front proxy.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(constants.HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := context.WithValue(c.Request.Context(), constants.ContextKeyRequestID, requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Header(constants.HeaderRequestID, requestID)
		c.Next()
	}
}

// RequestLogger emits one structured line per request.
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	log = log.WithComponent("http")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", path),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("latency", time.Since(start)),
			logger.String("client_ip", c.ClientIP()),
		}
		switch {
		case c.Writer.Status() >= 500:
			log.Error(c.Request.Context(), "request failed", nil, fields...)
		case c.Writer.Status() >= 400:
			log.Warn(c.Request.Context(), "request rejected", fields...)
		default:
			log.Info(c.Request.Context(), "request completed", fields...)
		}
	}
}

// Recovery converts panics into 500 responses without killing the process.
func Recovery(log logger.Logger) gin.HandlerFunc {
	log = log.WithComponent("http")
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error(c.Request.Context(), "panic recovered", nil,
					logger.Any("panic", r),
					logger.String("path", c.Request.URL.Path))
				c.AbortWithStatusJSON(500, gin.H{"error": "internal_error"})
			}
		}()
		c.Next()
	}
}
