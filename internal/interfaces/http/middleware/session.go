package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	appservice "github.com/veloprint/gateway/internal/application/service"
	"github.com/veloprint/gateway/internal/config"
	"github.com/veloprint/gateway/internal/domain/models"
	"github.com/veloprint/gateway/pkg/constants"
)

// ginKeySession is where the resolved session lives in the gin context.
const ginKeySession = "gateway_session"

// Session resolves or creates the request's session from the first-party
// cookie and advances the anomaly heuristic.
func Session(guard *appservice.SessionGuard, cfg *config.SessionConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		cookieID, _ := c.Cookie(cookieName(cfg))

		sess, created, err := guard.Establish(c.Request.Context(), cookieID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session_unavailable"})
			return
		}
		if created {
			SetSessionCookie(c, cfg, sess.ID)
		}

		guard.Touch(c.Request.Context(), sess, c.ClientIP(), c.Request.UserAgent())

		c.Set(ginKeySession, sess)
		ctx := context.WithValue(c.Request.Context(), constants.ContextKeySessionID, sess.ID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// SessionFrom pulls the resolved session out of the gin context.
func SessionFrom(c *gin.Context) *models.Session {
	v, ok := c.Get(ginKeySession)
	if !ok {
		return nil
	}
	sess, _ := v.(*models.Session)
	return sess
}

// SetSessionCookie writes the session cookie with the configured attributes.
// Called again after rotation so the client follows the new id.
func SetSessionCookie(c *gin.Context, cfg *config.SessionConfig, sessionID string) {
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = int(constants.DefaultSessionMaxAge.Seconds())
	}

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     cookieName(cfg),
		Value:    sessionID,
		Path:     "/",
		Domain:   cfg.CookieDomain,
		MaxAge:   maxAge,
		Secure:   cfg.Secure,
		HttpOnly: true,
		SameSite: sameSiteOf(cfg.SameSite),
	})
}

// ClearSessionCookie expires the cookie on logout.
func ClearSessionCookie(c *gin.Context, cfg *config.SessionConfig) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     cookieName(cfg),
		Value:    "",
		Path:     "/",
		Domain:   cfg.CookieDomain,
		MaxAge:   -1,
		Secure:   cfg.Secure,
		HttpOnly: true,
		SameSite: sameSiteOf(cfg.SameSite),
	})
}

func cookieName(cfg *config.SessionConfig) string {
	if cfg.CookieName != "" {
		return cfg.CookieName
	}
	return constants.SessionCookieName
}

func sameSiteOf(mode string) http.SameSite {
	switch strings.ToLower(mode) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
