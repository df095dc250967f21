package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/veloprint/gateway/internal/config"
	"github.com/veloprint/gateway/internal/domain/service"
	"github.com/veloprint/gateway/internal/infrastructure/monitoring"
	"github.com/veloprint/gateway/pkg/constants"
	"github.com/veloprint/gateway/pkg/errors"
	"github.com/veloprint/gateway/pkg/logger"
	"github.com/veloprint/gateway/pkg/utils"

	"github.com/veloprint/gateway/internal/interfaces/http/respond"
)

// RateLimit applies the sliding-window admission control for a scope. The
// client scope keys on the composite client identifier; the oauth scope
// shares the same key under a tighter budget. A limiter backend failure
// fails open.
func RateLimit(
	limiter service.RateLimitService,
	cfg *config.RateLimitConfig,
	scope constants.RateLimitScope,
	metrics *monitoring.Metrics,
	log logger.Logger,
) gin.HandlerFunc {
	log = log.WithComponent("rate_limit")

	window, max := cfg.ClientWindow(), cfg.ClientMaxRequests
	if scope == constants.ScopeOAuth {
		window, max = cfg.OAuthWindow(), cfg.OAuthMaxRequests
	}
	if window <= 0 {
		window = constants.DefaultClientWindow
		if scope == constants.ScopeOAuth {
			window = constants.DefaultOAuthWindow
		}
	}
	if max <= 0 {
		max = constants.DefaultClientMaxRequests
		if scope == constants.ScopeOAuth {
			max = constants.DefaultOAuthMaxRequests
		}
	}

	return func(c *gin.Context) {
		if !cfg.Enabled {
			c.Next()
			return
		}

		sess := SessionFrom(c)
		sessionID := ""
		if sess != nil {
			sessionID = sess.ID
		}
		key := string(scope) + ":" + utils.ClientIdentifier(c.ClientIP(), c.Request.UserAgent(), sessionID)

		result, err := limiter.Allow(c.Request.Context(), key, window, max)
		if err != nil {
			log.Error(c.Request.Context(), "rate limiter failed, admitting", err)
			c.Next()
			return
		}

		c.Header(constants.HeaderRateLimitLimit, strconv.Itoa(result.Limit))
		c.Header(constants.HeaderRateLimitRemaining, strconv.Itoa(result.Remaining))
		c.Header(constants.HeaderRateLimitReset, strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			if metrics != nil {
				metrics.RecordRateLimitHit(scope)
			}
			log.Warn(c.Request.Context(), "rate limit exceeded",
				logger.String("scope", string(scope)),
				logger.Duration("retry_after", result.RetryAfter))
			respond.Error(c, errors.ErrClientRateLimited(result.RetryAfter))
			return
		}
		c.Next()
	}
}
