package service

import (
	"context"
	"sync"
	"time"

	"github.com/veloprint/gateway/internal/config"
	"github.com/veloprint/gateway/internal/domain/models"
	"github.com/veloprint/gateway/internal/domain/service"
	"github.com/veloprint/gateway/pkg/constants"
	"github.com/veloprint/gateway/pkg/errors"
	"github.com/veloprint/gateway/pkg/logger"
	"github.com/veloprint/gateway/pkg/utils"
)

const bridgeSweepDefault = time.Minute

// CrossDomainTokenRegistry hands short-lived bearer tokens to callers that
// cannot present the session cookie. Tokens carry a point-in-time snapshot of
// the credential and die on their own TTL regardless of the session's fate,
// unless explicitly extended or revoked with the session.
type CrossDomainTokenRegistry struct {
	mu        sync.RWMutex
	tokens    map[string]*models.BridgeToken
	bySession map[string]map[string]struct{}

	ttl time.Duration
	log logger.Logger

	issued   int64
	extended int64
	expired  int64
	revoked  int64

	done chan struct{}
	once sync.Once
}

var _ service.BridgeRegistry = (*CrossDomainTokenRegistry)(nil)

// NewCrossDomainTokenRegistry builds the registry and starts its sweep loop.
func NewCrossDomainTokenRegistry(cfg *config.BridgeConfig, log logger.Logger) *CrossDomainTokenRegistry {
	ttl := time.Duration(cfg.TokenTTL) * time.Second
	if ttl <= 0 {
		ttl = constants.DefaultBridgeTokenTTL
	}
	sweep := time.Duration(cfg.SweepInterval) * time.Second
	if sweep <= 0 {
		sweep = bridgeSweepDefault
	}

	r := &CrossDomainTokenRegistry{
		tokens:    make(map[string]*models.BridgeToken),
		bySession: make(map[string]map[string]struct{}),
		ttl:       ttl,
		log:       log.WithComponent("bridge_registry"),
		done:      make(chan struct{}),
	}
	go r.sweepLoop(sweep)
	return r
}

// StoreToken mints a fresh bridge token for the session's credential.
func (r *CrossDomainTokenRegistry) StoreToken(ctx context.Context, sessionID string, subjectID int64, snap models.TokenSnapshot) (*models.BridgeToken, error) {
	raw, err := utils.RandomToken(constants.BridgeTokenBytes)
	if err != nil {
		return nil, errors.ErrServer("minting bridge token: " + err.Error())
	}

	now := time.Now()
	bt := &models.BridgeToken{
		Token:     raw,
		SessionID: sessionID,
		SubjectID: subjectID,
		Snapshot:  snap,
		CreatedAt: now,
		ExpiresAt: now.Add(r.ttl),
	}

	r.mu.Lock()
	r.tokens[raw] = bt
	if _, ok := r.bySession[sessionID]; !ok {
		r.bySession[sessionID] = make(map[string]struct{})
	}
	r.bySession[sessionID][raw] = struct{}{}
	r.issued++
	r.mu.Unlock()

	r.log.Info(ctx, "issued bridge token",
		logger.String("session_id", sessionID),
		logger.Int64("subject_id", subjectID),
		logger.Time("expires_at", bt.ExpiresAt))

	out := *bt
	return &out, nil
}

// GetTokenData resolves a bridge token. Expired tokens read as absent and
// are removed on sight.
func (r *CrossDomainTokenRegistry) GetTokenData(ctx context.Context, token string) (*models.BridgeToken, error) {
	r.mu.RLock()
	bt, ok := r.tokens[token]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.ErrUnauthenticated("unknown bridge token")
	}

	if bt.IsExpired(time.Now()) {
		r.mu.Lock()
		r.remove(token, bt.SessionID)
		r.expired++
		r.mu.Unlock()
		return nil, errors.ErrUnauthenticated("bridge token expired")
	}

	out := *bt
	return &out, nil
}

// ExtendToken pushes a live token's expiry out by one TTL from now.
func (r *CrossDomainTokenRegistry) ExtendToken(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bt, ok := r.tokens[token]
	if !ok {
		return errors.ErrUnauthenticated("unknown bridge token")
	}
	now := time.Now()
	if bt.IsExpired(now) {
		r.remove(token, bt.SessionID)
		r.expired++
		return errors.ErrUnauthenticated("bridge token expired")
	}

	bt.ExpiresAt = now.Add(r.ttl)
	bt.LastExtendedAt = now
	r.extended++
	return nil
}

// RevokeSession drops every bridge token minted for a session and reports
// how many were live. Called on logout so the bridge dies with the session.
func (r *CrossDomainTokenRegistry) RevokeSession(ctx context.Context, sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.bySession[sessionID]
	if !ok {
		return 0
	}
	count := 0
	for token := range set {
		delete(r.tokens, token)
		count++
	}
	delete(r.bySession, sessionID)
	r.revoked += int64(count)

	r.log.Info(ctx, "revoked bridge tokens for session",
		logger.String("session_id", sessionID),
		logger.Int("count", count))
	return count
}

// Stats reports the registry counters for the ops surface.
func (r *CrossDomainTokenRegistry) Stats(ctx context.Context) models.BridgeStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return models.BridgeStats{
		Active:   len(r.tokens),
		Issued:   r.issued,
		Extended: r.extended,
		Expired:  r.expired,
		Revoked:  r.revoked,
	}
}

// Close stops the sweep loop.
func (r *CrossDomainTokenRegistry) Close() {
	r.once.Do(func() { close(r.done) })
}

// remove must be called with the write lock held.
func (r *CrossDomainTokenRegistry) remove(token, sessionID string) {
	delete(r.tokens, token)
	if set, ok := r.bySession[sessionID]; ok {
		delete(set, token)
		if len(set) == 0 {
			delete(r.bySession, sessionID)
		}
	}
}

func (r *CrossDomainTokenRegistry) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.sweepExpired(time.Now())
		}
	}
}

func (r *CrossDomainTokenRegistry) sweepExpired(now time.Time) {
	r.mu.Lock()
	removed := 0
	for token, bt := range r.tokens {
		if bt.IsExpired(now) {
			r.remove(token, bt.SessionID)
			r.expired++
			removed++
		}
	}
	r.mu.Unlock()

	if removed > 0 {
		r.log.Debug(context.Background(), "swept expired bridge tokens",
			logger.Int("removed", removed))
	}
}
