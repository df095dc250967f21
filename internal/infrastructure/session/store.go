// Package session provides the in-memory session store backing the
// first-party cookie.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veloprint/gateway/internal/config"
	"github.com/veloprint/gateway/internal/domain/models"
	"github.com/veloprint/gateway/internal/domain/service"
	"github.com/veloprint/gateway/pkg/constants"
	"github.com/veloprint/gateway/pkg/errors"
	"github.com/veloprint/gateway/pkg/logger"
	"github.com/veloprint/gateway/pkg/utils"
)

const defaultSweepInterval = 5 * time.Minute

// Store keeps sessions in process memory. Sessions past their hard max age
// or idle TTL are swept in the background and treated as absent on read.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session

	maxAge  time.Duration
	idleTTL time.Duration

	log  logger.Logger
	done chan struct{}
	once sync.Once
}

var _ service.SessionStore = (*Store)(nil)

// NewStore builds the store and starts its sweep loop.
func NewStore(cfg *config.SessionConfig, log logger.Logger) *Store {
	maxAge := time.Duration(cfg.MaxAge) * time.Second
	if maxAge <= 0 {
		maxAge = constants.DefaultSessionMaxAge
	}
	idleTTL := time.Duration(cfg.IdleTTL) * time.Second
	if idleTTL <= 0 {
		idleTTL = maxAge
	}

	s := &Store{
		sessions: make(map[string]*models.Session),
		maxAge:   maxAge,
		idleTTL:  idleTTL,
		log:      log.WithComponent("session_store"),
		done:     make(chan struct{}),
	}
	go s.sweepLoop(defaultSweepInterval)
	return s
}

// Create mints a session with a fresh id and CSRF secret.
func (s *Store) Create(ctx context.Context) (*models.Session, error) {
	secret, err := utils.RandomToken(32)
	if err != nil {
		return nil, errors.ErrServer("minting csrf secret: " + err.Error())
	}

	now := time.Now()
	sess := &models.Session{
		ID:         uuid.NewString(),
		CreatedAt:  now,
		LastSeenAt: now,
		CSRFSecret: secret,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	return copySession(sess), nil
}

// Get returns the session for an id, nil when absent or expired. Expired
// entries are removed on sight rather than waiting for the sweep.
func (s *Store) Get(ctx context.Context, id string) (*models.Session, error) {
	if id == "" {
		return nil, nil
	}

	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	if s.expired(sess, time.Now()) {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		return nil, nil
	}

	return copySession(sess), nil
}

// Save persists mutations and refreshes the idle clock.
func (s *Store) Save(ctx context.Context, sess *models.Session) error {
	if sess == nil || sess.ID == "" {
		return errors.ErrServer("cannot save a session without an id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; !ok {
		return errors.ErrUnauthenticated("session no longer exists")
	}
	stored := copySession(sess)
	stored.LastSeenAt = time.Now()
	s.sessions[sess.ID] = stored
	return nil
}

// Rotate regenerates the session id in place. The old id stops resolving the
// moment the new one is live, so a cookie captured pre-login is worthless.
func (s *Store) Rotate(ctx context.Context, sess *models.Session) (string, error) {
	if sess == nil || sess.ID == "" {
		return "", errors.ErrServer("cannot rotate a session without an id")
	}

	newID := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; !ok {
		return "", errors.ErrUnauthenticated("session no longer exists")
	}
	delete(s.sessions, sess.ID)

	sess.ID = newID
	sess.LastSeenAt = time.Now()
	s.sessions[newID] = copySession(sess)

	return newID, nil
}

// Destroy removes the session. Removing an unknown id is a no-op.
func (s *Store) Destroy(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

// Len reports the live session count for the ops surface.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close stops the sweep loop.
func (s *Store) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Store) expired(sess *models.Session, now time.Time) bool {
	if sess.Age(now) >= s.maxAge {
		return true
	}
	return now.Sub(sess.LastSeenAt) >= s.idleTTL
}

func (s *Store) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

func (s *Store) sweep(now time.Time) {
	s.mu.Lock()
	removed := 0
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			delete(s.sessions, id)
			removed++
		}
	}
	remaining := len(s.sessions)
	s.mu.Unlock()

	if removed > 0 {
		s.log.Debug(context.Background(), "swept expired sessions",
			logger.Int("removed", removed),
			logger.Int("remaining", remaining))
	}
}

// copySession keeps callers from mutating stored state without Save.
func copySession(sess *models.Session) *models.Session {
	out := *sess
	if sess.TokenBlob != nil {
		blob := *sess.TokenBlob
		blob.Nonce = append([]byte(nil), sess.TokenBlob.Nonce...)
		blob.Ciphertext = append([]byte(nil), sess.TokenBlob.Ciphertext...)
		out.TokenBlob = &blob
	}
	return &out
}
