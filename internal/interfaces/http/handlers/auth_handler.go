// Package handlers implements the gateway's HTTP endpoints.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	appservice "github.com/veloprint/gateway/internal/application/service"
	"github.com/veloprint/gateway/internal/config"
	"github.com/veloprint/gateway/internal/domain/service"
	"github.com/veloprint/gateway/internal/infrastructure/monitoring"
	"github.com/veloprint/gateway/internal/infrastructure/upstream"
	"github.com/veloprint/gateway/internal/interfaces/http/middleware"
	"github.com/veloprint/gateway/internal/interfaces/http/respond"
	"github.com/veloprint/gateway/pkg/constants"
	"github.com/veloprint/gateway/pkg/errors"
	"github.com/veloprint/gateway/pkg/logger"
)

// AuthHandler drives the OAuth flow: login redirect, callback, logout, and
// the status probe.
type AuthHandler struct {
	oauth    *upstream.OAuthClient
	state    *upstream.StateManager
	tokens   *appservice.TokenStore
	guard    *appservice.SessionGuard
	bridge   service.BridgeRegistry
	sessions service.SessionStore

	sessionCfg *config.SessionConfig
	metrics    *monitoring.Metrics
	log        logger.Logger
}

// NewAuthHandler wires the auth endpoints.
func NewAuthHandler(
	oauth *upstream.OAuthClient,
	state *upstream.StateManager,
	tokens *appservice.TokenStore,
	guard *appservice.SessionGuard,
	bridge service.BridgeRegistry,
	sessions service.SessionStore,
	sessionCfg *config.SessionConfig,
	metrics *monitoring.Metrics,
	log logger.Logger,
) *AuthHandler {
	return &AuthHandler{
		oauth:      oauth,
		state:      state,
		tokens:     tokens,
		guard:      guard,
		bridge:     bridge,
		sessions:   sessions,
		sessionCfg: sessionCfg,
		metrics:    metrics,
		log:        log.WithComponent("auth_handler"),
	}
}

// Login redirects the browser to the provider with a signed state bound to
// this session.
func (h *AuthHandler) Login(c *gin.Context) {
	sess := middleware.SessionFrom(c)
	if sess == nil {
		respond.Error(c, errors.ErrServer("no session for login"))
		return
	}

	state, err := h.state.Issue(sess.ID, safeReturnPath(c.Query("return_to")))
	if err != nil {
		h.metrics.RecordAuthRequest("login", "error")
		respond.Error(c, err)
		return
	}

	h.metrics.RecordAuthRequest("login", "redirected")
	c.Redirect(http.StatusFound, h.oauth.AuthCodeURL(state))
}

// Callback handles the provider's redirect: state verification, code
// exchange, and credential storage. The session rotates inside StoreTokens,
// so the cookie is rewritten with the new id before the response.
func (h *AuthHandler) Callback(c *gin.Context) {
	sess := middleware.SessionFrom(c)
	if sess == nil {
		respond.Error(c, errors.ErrServer("no session for callback"))
		return
	}

	if denied := c.Query("error"); denied != "" {
		h.metrics.RecordAuthRequest("callback", "denied")
		respond.Error(c, errors.ErrUnauthenticated("provider denied authorization: "+denied))
		return
	}

	returnPath, err := h.state.Verify(c.Query("state"), sess.ID)
	if err != nil {
		h.metrics.RecordAuthRequest("callback", "state_mismatch")
		respond.Error(c, err)
		return
	}

	code := c.Query("code")
	if code == "" {
		h.metrics.RecordAuthRequest("callback", "missing_code")
		respond.Error(c, errors.ErrStateMismatch("callback carried no authorization code"))
		return
	}

	record, err := h.oauth.Exchange(c.Request.Context(), code)
	if err != nil {
		h.metrics.RecordAuthRequest("callback", "exchange_failed")
		respond.Error(c, err)
		return
	}

	if err := h.tokens.StoreTokens(c.Request.Context(), sess, record); err != nil {
		h.metrics.RecordAuthRequest("callback", "store_failed")
		respond.Error(c, err)
		return
	}

	middleware.SetSessionCookie(c, h.sessionCfg, sess.ID)
	h.metrics.RecordAuthRequest("callback", "success")
	h.log.Info(c.Request.Context(), "login completed",
		logger.Int64("subject_id", record.SubjectID))

	if returnPath != "" {
		c.Redirect(http.StatusFound, returnPath)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"subject_id":    record.SubjectID,
		"expires_at":    record.ExpiresAt,
	})
}

// safeReturnPath accepts only site-relative paths so the signed state can
// never send the browser off-origin after login.
func safeReturnPath(p string) string {
	if len(p) < 2 || p[0] != '/' || p[1] == '/' || p[1] == '\\' {
		return ""
	}
	return p
}

// Logout revokes upstream best-effort, clears the credential, kills the
// session and its bridge tokens, and expires the cookie. Revoke failure is
// logged and swallowed: local logout always completes.
func (h *AuthHandler) Logout(c *gin.Context) {
	sess := middleware.SessionFrom(c)
	if sess == nil {
		respond.Error(c, errors.ErrServer("no session for logout"))
		return
	}

	if record, err := h.tokens.GetTokens(c.Request.Context(), sess); err == nil && record != nil {
		revokeCtx, cancel := context.WithTimeout(c.Request.Context(), constants.DefaultRevokeTimeout)
		if err := h.oauth.Revoke(revokeCtx, record.AccessToken); err != nil {
			h.log.Warn(c.Request.Context(), "upstream revoke failed during logout",
				logger.Error(err))
		}
		cancel()
	}

	revoked := h.bridge.RevokeSession(c.Request.Context(), sess.ID)
	_ = h.tokens.ClearTokens(c.Request.Context(), sess)
	_ = h.sessions.Destroy(c.Request.Context(), sess.ID)
	middleware.ClearSessionCookie(c, h.sessionCfg)

	h.metrics.RecordAuthRequest("logout", "success")
	h.log.Info(c.Request.Context(), "logout completed",
		logger.Int("bridge_tokens_revoked", revoked))

	c.JSON(http.StatusOK, gin.H{"authenticated": false})
}

// Status reports the session's authentication state and hands out the CSRF
// token for subsequent mutating calls.
func (h *AuthHandler) Status(c *gin.Context) {
	sess := middleware.SessionFrom(c)
	if sess == nil {
		respond.Error(c, errors.ErrServer("no session for status"))
		return
	}

	record, err := h.tokens.GetTokens(c.Request.Context(), sess)
	if err != nil {
		respond.Error(c, err)
		return
	}

	resp := gin.H{
		"authenticated": false,
		"csrf_token":    h.guard.CSRFToken(sess),
	}
	if record != nil {
		expired := record.IsExpired(time.Now())
		resp["authenticated"] = !expired
		resp["token_expired"] = expired
		resp["subject_id"] = record.SubjectID
		resp["expires_at"] = record.ExpiresAt
	}
	c.JSON(http.StatusOK, resp)
}
