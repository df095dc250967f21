package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	appservice "github.com/veloprint/gateway/internal/application/service"
	"github.com/veloprint/gateway/internal/domain/service"
	"github.com/veloprint/gateway/internal/interfaces/http/respond"
	"github.com/veloprint/gateway/pkg/constants"
	"github.com/veloprint/gateway/pkg/errors"
)

const (
	ginKeyAccessToken  = "gateway_access_token"
	ginKeyRefreshToken = "gateway_refresh_token"
	ginKeySubjectID    = "gateway_subject_id"
)

// RequireAuth resolves a live credential for the request, either from the
// session or from a bridge token presented by a cookie-less caller. Bridge
// resolution extends the token's TTL as a side effect of legitimate use.
func RequireAuth(tokens *appservice.TokenStore, bridge service.BridgeRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		if bridgeToken := c.GetHeader(constants.HeaderBridgeToken); bridgeToken != "" {
			resolveBridge(c, bridge, bridgeToken)
			return
		}

		sess := SessionFrom(c)
		if sess == nil {
			respond.Error(c, errors.ErrUnauthenticated("no session"))
			return
		}

		record, err := tokens.EnsureFresh(c.Request.Context(), sess)
		if err != nil {
			respond.Error(c, err)
			return
		}

		admit(c, record.AccessToken, record.RefreshToken, record.SubjectID, "session")
	}
}

func resolveBridge(c *gin.Context, bridge service.BridgeRegistry, token string) {
	bt, err := bridge.GetTokenData(c.Request.Context(), token)
	if err != nil {
		respond.Error(c, err)
		return
	}
	if bt.Snapshot.ExpiresAt <= time.Now().Unix() {
		respond.Error(c, errors.ErrTokenExpired("bridged credential expired"))
		return
	}

	_ = bridge.ExtendToken(c.Request.Context(), token)
	admit(c, bt.Snapshot.AccessToken, bt.Snapshot.RefreshToken, bt.SubjectID, "bridge")
}

func admit(c *gin.Context, accessToken, refreshToken string, subjectID int64, source string) {
	c.Set(ginKeyAccessToken, accessToken)
	c.Set(ginKeyRefreshToken, refreshToken)
	c.Set(ginKeySubjectID, subjectID)

	ctx := context.WithValue(c.Request.Context(), constants.ContextKeySubjectID, subjectID)
	ctx = context.WithValue(ctx, constants.ContextKeyAuthSource, source)
	c.Request = c.Request.WithContext(ctx)
	c.Next()
}

// AccessTokenFrom returns the credential admitted by RequireAuth.
func AccessTokenFrom(c *gin.Context) string {
	return c.GetString(ginKeyAccessToken)
}

// RefreshTokenFrom returns the refresh token for the admitted credential,
// from the session record or the bridge snapshot, so callers never branch
// on the source.
func RefreshTokenFrom(c *gin.Context) string {
	return c.GetString(ginKeyRefreshToken)
}

// SubjectFrom returns the authenticated upstream subject.
func SubjectFrom(c *gin.Context) int64 {
	v, ok := c.Get(ginKeySubjectID)
	if !ok {
		return 0
	}
	id, _ := v.(int64)
	return id
}
