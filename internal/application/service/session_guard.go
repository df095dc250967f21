package service

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/veloprint/gateway/internal/domain/models"
	"github.com/veloprint/gateway/internal/domain/service"
	"github.com/veloprint/gateway/pkg/constants"
	"github.com/veloprint/gateway/pkg/errors"
	"github.com/veloprint/gateway/pkg/logger"
)

// SessionGuard owns session establishment, CSRF verification, and the
// request-drift anomaly heuristic.
type SessionGuard struct {
	sessions service.SessionStore
	log      logger.Logger
}

// NewSessionGuard wires the guard over the session store.
func NewSessionGuard(sessions service.SessionStore, log logger.Logger) *SessionGuard {
	return &SessionGuard{
		sessions: sessions,
		log:      log.WithComponent("session_guard"),
	}
}

// Establish resolves the cookie id to a session, creating one when the id is
// absent, unknown, or expired. The second return reports creation so the
// caller knows to set a fresh cookie.
func (g *SessionGuard) Establish(ctx context.Context, cookieID string) (*models.Session, bool, error) {
	if cookieID != "" {
		sess, err := g.sessions.Get(ctx, cookieID)
		if err != nil {
			return nil, false, err
		}
		if sess != nil {
			return sess, false, nil
		}
	}

	sess, err := g.sessions.Create(ctx)
	if err != nil {
		return nil, false, err
	}
	return sess, true, nil
}

// Touch advances the anomaly heuristic with the request's characteristics.
// Drift flags the session for review; it never blocks on this signal alone.
func (g *SessionGuard) Touch(ctx context.Context, sess *models.Session, ip, userAgent string) {
	meta := &sess.Meta
	meta.RequestCount++

	switch {
	case meta.UserAgent != "" && userAgent != "" && meta.UserAgent != userAgent:
		g.flag(ctx, sess, "user agent changed mid-session")
	case meta.IP != "" && ip != "" && meta.IP != ip:
		g.flag(ctx, sess, "client address changed mid-session")
	case meta.RequestCount > constants.AnomalyRequestThreshold && !meta.Flagged:
		g.flag(ctx, sess, fmt.Sprintf("request count exceeded %d", constants.AnomalyRequestThreshold))
	}

	meta.UserAgent = userAgent
	meta.IP = ip

	if err := g.sessions.Save(ctx, sess); err != nil {
		g.log.Warn(ctx, "failed to persist session touch",
			logger.String("session_id", sess.ID),
			logger.Error(err))
	}
}

// VerifyCSRF checks the submitted token against the session secret in
// constant time. An empty submission fails like a wrong one.
func (g *SessionGuard) VerifyCSRF(sess *models.Session, provided string) error {
	if sess == nil || sess.CSRFSecret == "" {
		return errors.ErrCSRFFailed("session has no csrf secret")
	}
	if subtle.ConstantTimeCompare([]byte(sess.CSRFSecret), []byte(provided)) != 1 {
		return errors.ErrCSRFFailed("csrf token mismatch")
	}
	return nil
}

// CSRFToken returns the per-session token for embedding in responses.
func (g *SessionGuard) CSRFToken(sess *models.Session) string {
	if sess == nil {
		return ""
	}
	return sess.CSRFSecret
}

func (g *SessionGuard) flag(ctx context.Context, sess *models.Session, reason string) {
	sess.Meta.Flagged = true
	sess.Meta.FlagReason = reason
	g.log.Warn(ctx, "session flagged",
		logger.String("session_id", sess.ID),
		logger.String("reason", reason),
		logger.Int64("request_count", sess.Meta.RequestCount))
}
