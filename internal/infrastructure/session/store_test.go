package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloprint/gateway/internal/config"
	"github.com/veloprint/gateway/internal/domain/models"
	"github.com/veloprint/gateway/pkg/logger"
)

func newTestStore(t *testing.T, cfg config.SessionConfig) *Store {
	t.Helper()
	s := NewStore(&cfg, logger.NewNoopLogger())
	t.Cleanup(s.Close)
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t, config.SessionConfig{})
	ctx := context.Background()

	sess, err := s.Create(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.NotEmpty(t, sess.CSRFSecret)
	assert.Nil(t, sess.TokenBlob)

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, sess.CSRFSecret, got.CSRFSecret)
}

func TestGetUnknownOrEmptyID(t *testing.T) {
	s := newTestStore(t, config.SessionConfig{})
	ctx := context.Background()

	got, err := s.Get(ctx, "no-such-session")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.Get(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSavePersistsMutations(t *testing.T) {
	s := newTestStore(t, config.SessionConfig{})
	ctx := context.Background()

	sess, err := s.Create(ctx)
	require.NoError(t, err)

	sess.TokenBlob = &models.EncryptedBlob{Nonce: []byte{1, 2, 3}, Ciphertext: []byte{4, 5, 6}}
	sess.Meta.RequestCount = 7
	require.NoError(t, s.Save(ctx, sess))

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got.TokenBlob)
	assert.Equal(t, []byte{4, 5, 6}, got.TokenBlob.Ciphertext)
	assert.Equal(t, int64(7), got.Meta.RequestCount)
}

func TestSaveRejectsDestroyedSession(t *testing.T) {
	s := newTestStore(t, config.SessionConfig{})
	ctx := context.Background()

	sess, err := s.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Destroy(ctx, sess.ID))

	assert.Error(t, s.Save(ctx, sess))
}

func TestGetReturnsACopy(t *testing.T) {
	s := newTestStore(t, config.SessionConfig{})
	ctx := context.Background()

	sess, err := s.Create(ctx)
	require.NoError(t, err)
	sess.TokenBlob = &models.EncryptedBlob{Ciphertext: []byte{1}}
	require.NoError(t, s.Save(ctx, sess))

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	got.TokenBlob.Ciphertext[0] = 99
	got.Meta.RequestCount = 1000

	again, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, byte(1), again.TokenBlob.Ciphertext[0], "mutations without Save must not leak into the store")
	assert.Equal(t, int64(0), again.Meta.RequestCount)
}

func TestRotatePreservesStateUnderNewID(t *testing.T) {
	s := newTestStore(t, config.SessionConfig{})
	ctx := context.Background()

	sess, err := s.Create(ctx)
	require.NoError(t, err)
	oldID := sess.ID
	oldSecret := sess.CSRFSecret
	sess.TokenBlob = &models.EncryptedBlob{Ciphertext: []byte{9}}
	require.NoError(t, s.Save(ctx, sess))

	newID, err := s.Rotate(ctx, sess)
	require.NoError(t, err)
	assert.NotEqual(t, oldID, newID)
	assert.Equal(t, newID, sess.ID)

	stale, err := s.Get(ctx, oldID)
	require.NoError(t, err)
	assert.Nil(t, stale, "the pre-rotation id must stop resolving immediately")

	got, err := s.Get(ctx, newID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, oldSecret, got.CSRFSecret)
	require.NotNil(t, got.TokenBlob)
	assert.Equal(t, []byte{9}, got.TokenBlob.Ciphertext)
}

func TestRotateUnknownSession(t *testing.T) {
	s := newTestStore(t, config.SessionConfig{})
	ctx := context.Background()

	_, err := s.Rotate(ctx, &models.Session{ID: "gone"})
	assert.Error(t, err)
}

func TestIdleSessionsExpireOnRead(t *testing.T) {
	s := newTestStore(t, config.SessionConfig{IdleTTL: 1})
	ctx := context.Background()

	sess, err := s.Create(ctx)
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 0, s.Len(), "expired entry is dropped on sight")
}

func TestMaxAgeIsAHardCutoff(t *testing.T) {
	s := newTestStore(t, config.SessionConfig{MaxAge: 1, IdleTTL: 3600})
	ctx := context.Background()

	sess, err := s.Create(ctx)
	require.NoError(t, err)

	// keep touching it; max age must win regardless of activity
	deadline := time.Now().Add(1200 * time.Millisecond)
	for time.Now().Before(deadline) {
		_ = s.Save(ctx, sess)
		time.Sleep(100 * time.Millisecond)
	}

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSweepRemovesExpired(t *testing.T) {
	s := newTestStore(t, config.SessionConfig{IdleTTL: 3600})
	ctx := context.Background()

	fresh, err := s.Create(ctx)
	require.NoError(t, err)
	stale, err := s.Create(ctx)
	require.NoError(t, err)

	s.mu.Lock()
	s.sessions[stale.ID].LastSeenAt = time.Now().Add(-2 * time.Hour)
	s.mu.Unlock()

	s.sweep(time.Now())

	assert.Equal(t, 1, s.Len())
	got, err := s.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}
