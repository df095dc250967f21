package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	appservice "github.com/veloprint/gateway/internal/application/service"
	"github.com/veloprint/gateway/internal/domain/models"
	"github.com/veloprint/gateway/internal/domain/service"
	"github.com/veloprint/gateway/internal/interfaces/http/middleware"
	"github.com/veloprint/gateway/internal/interfaces/http/respond"
	"github.com/veloprint/gateway/pkg/errors"
	"github.com/veloprint/gateway/pkg/logger"
)

// BridgeHandler mints and introspects cross-domain tokens.
type BridgeHandler struct {
	tokens *appservice.TokenStore
	bridge service.BridgeRegistry
	log    logger.Logger
}

// NewBridgeHandler wires the bridge endpoints.
func NewBridgeHandler(tokens *appservice.TokenStore, bridge service.BridgeRegistry, log logger.Logger) *BridgeHandler {
	return &BridgeHandler{
		tokens: tokens,
		bridge: bridge,
		log:    log.WithComponent("bridge_handler"),
	}
}

// Mint issues a bridge token for the session's live credential. Requires an
// authenticated session and CSRF; the caller hands the value to the
// cookie-less consumer out of band.
func (h *BridgeHandler) Mint(c *gin.Context) {
	sess := middleware.SessionFrom(c)
	if sess == nil {
		respond.Error(c, errors.ErrUnauthenticated("no session"))
		return
	}

	record, err := h.tokens.EnsureFresh(c.Request.Context(), sess)
	if err != nil {
		respond.Error(c, err)
		return
	}

	bt, err := h.bridge.StoreToken(c.Request.Context(), sess.ID, record.SubjectID, models.TokenSnapshot{
		AccessToken:  record.AccessToken,
		RefreshToken: record.RefreshToken,
		ExpiresAt:    record.ExpiresAt,
	})
	if err != nil {
		respond.Error(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"token":      bt.Token,
		"expires_at": bt.ExpiresAt.Unix(),
		"subject_id": bt.SubjectID,
	})
}

// Introspect resolves a bridge token, extending its TTL on legitimate use.
func (h *BridgeHandler) Introspect(c *gin.Context) {
	token := c.Param("token")

	if err := h.bridge.ExtendToken(c.Request.Context(), token); err != nil {
		respond.Error(c, err)
		return
	}
	bt, err := h.bridge.GetTokenData(c.Request.Context(), token)
	if err != nil {
		respond.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subject_id":    bt.SubjectID,
		"created_at":    bt.CreatedAt.Unix(),
		"expires_at":    bt.ExpiresAt.Unix(),
		"token_expired": bt.Snapshot.ExpiresAt <= time.Now().Unix(),
	})
}
