package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloprint/gateway/internal/config"
	"github.com/veloprint/gateway/internal/domain/models"
	"github.com/veloprint/gateway/internal/infrastructure/crypto"
	"github.com/veloprint/gateway/internal/infrastructure/monitoring"
	"github.com/veloprint/gateway/internal/infrastructure/resilience"
	"github.com/veloprint/gateway/internal/infrastructure/session"
	gwerrors "github.com/veloprint/gateway/pkg/errors"
	"github.com/veloprint/gateway/pkg/logger"
)

// fakeExchanger scripts the upstream OAuth client.
type fakeExchanger struct {
	refreshResult *models.TokenRecord
	refreshErr    error
	refreshCalls  int
	gotRefresh    string
}

func (f *fakeExchanger) Exchange(ctx context.Context, code string) (*models.TokenRecord, error) {
	return nil, gwerrors.ErrServer("not scripted")
}

func (f *fakeExchanger) Refresh(ctx context.Context, refreshToken string) (*models.TokenRecord, error) {
	f.refreshCalls++
	f.gotRefresh = refreshToken
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	out := *f.refreshResult
	return &out, nil
}

func (f *fakeExchanger) Revoke(ctx context.Context, accessToken string) error { return nil }

type tokenStoreFixture struct {
	store     *TokenStore
	sessions  *session.Store
	exchanger *fakeExchanger
	metrics   *monitoring.Metrics
}

func newTokenStoreFixture(t *testing.T) *tokenStoreFixture {
	t.Helper()

	vault, err := crypto.NewVault("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	sessions := session.NewStore(&config.SessionConfig{}, logger.NewNoopLogger())
	t.Cleanup(sessions.Close)

	exchanger := &fakeExchanger{}
	executor := resilience.NewExecutor(logger.NewNoopLogger())
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())

	return &tokenStoreFixture{
		store:     NewTokenStore(vault, sessions, exchanger, executor, metrics, 1, time.Millisecond, logger.NewNoopLogger()),
		sessions:  sessions,
		exchanger: exchanger,
		metrics:   metrics,
	}
}

func liveRecord(expiresIn time.Duration) *models.TokenRecord {
	return &models.TokenRecord{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAt:    time.Now().Add(expiresIn).Unix(),
		SubjectID:    134815,
	}
}

func TestStoreTokensRotatesSessionBeforeWrite(t *testing.T) {
	f := newTokenStoreFixture(t)
	ctx := context.Background()

	sess, err := f.sessions.Create(ctx)
	require.NoError(t, err)
	preLoginID := sess.ID

	require.NoError(t, f.store.StoreTokens(ctx, sess, liveRecord(time.Hour)))

	assert.NotEqual(t, preLoginID, sess.ID, "session id must rotate on credential write")

	stale, err := f.sessions.Get(ctx, preLoginID)
	require.NoError(t, err)
	assert.Nil(t, stale, "a cookie captured before login must address nothing")

	record, err := f.store.GetTokens(ctx, sess)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "at-1", record.AccessToken)
	assert.Equal(t, sess.ID, record.SessionID)
}

func TestStoreTokensRejectsInvalidRecord(t *testing.T) {
	f := newTokenStoreFixture(t)
	ctx := context.Background()

	sess, err := f.sessions.Create(ctx)
	require.NoError(t, err)
	idBefore := sess.ID

	err = f.store.StoreTokens(ctx, sess, &models.TokenRecord{AccessToken: "at-only"})
	require.Error(t, err)
	assert.Equal(t, gwerrors.CodeInvalidTokenData, gwerrors.CodeOf(err))
	assert.Equal(t, idBefore, sess.ID, "validation failure must not rotate")
}

func TestGetTokensSessionMismatchClearsBlob(t *testing.T) {
	f := newTokenStoreFixture(t)
	ctx := context.Background()

	sess, err := f.sessions.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, f.store.StoreTokens(ctx, sess, liveRecord(time.Hour)))

	// graft the blob onto a different session, as a fixation attempt would
	other, err := f.sessions.Create(ctx)
	require.NoError(t, err)
	other.TokenBlob = sess.TokenBlob
	require.NoError(t, f.sessions.Save(ctx, other))

	record, err := f.store.GetTokens(ctx, other)
	require.NoError(t, err)
	assert.Nil(t, record, "a record bound to another session reads as absent")

	reloaded, err := f.sessions.Get(ctx, other.ID)
	require.NoError(t, err)
	assert.Nil(t, reloaded.TokenBlob, "the grafted blob is cleared as a side effect")
}

func TestGetTokensTamperedBlobClears(t *testing.T) {
	f := newTokenStoreFixture(t)
	ctx := context.Background()

	sess, err := f.sessions.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, f.store.StoreTokens(ctx, sess, liveRecord(time.Hour)))

	sess.TokenBlob.Ciphertext[0] ^= 0xff
	require.NoError(t, f.sessions.Save(ctx, sess))

	record, err := f.store.GetTokens(ctx, sess)
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestAuthLifecycle(t *testing.T) {
	f := newTokenStoreFixture(t)
	ctx := context.Background()

	sess, err := f.sessions.Create(ctx)
	require.NoError(t, err)

	assert.False(t, f.store.IsAuthenticated(ctx, sess), "empty session is unauthenticated")

	// live credential
	require.NoError(t, f.store.StoreTokens(ctx, sess, liveRecord(time.Hour)))
	assert.True(t, f.store.IsAuthenticated(ctx, sess))

	// already past expiry: boundary is exclusive on the live side
	expired := liveRecord(time.Hour)
	expired.ExpiresAt = time.Now().Unix()
	require.NoError(t, f.store.StoreTokens(ctx, sess, expired))
	assert.False(t, f.store.IsAuthenticated(ctx, sess), "expiresAt == now reads as expired")

	// a refresh with a valid refresh token restores authentication
	f.exchanger.refreshResult = &models.TokenRecord{
		AccessToken:  "at-2",
		RefreshToken: "rt-2",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
	}
	require.NoError(t, f.store.Refresh(ctx, sess))
	assert.True(t, f.store.IsAuthenticated(ctx, sess))
	assert.Equal(t, "rt-1", f.exchanger.gotRefresh)

	record, err := f.store.GetTokens(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, "at-2", record.AccessToken)
	assert.Equal(t, "rt-2", record.RefreshToken)
	assert.Equal(t, int64(134815), record.SubjectID, "subject survives refresh")
}

func TestRefreshKeepsOldRefreshTokenWhenProviderOmitsIt(t *testing.T) {
	f := newTokenStoreFixture(t)
	ctx := context.Background()

	sess, err := f.sessions.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, f.store.StoreTokens(ctx, sess, liveRecord(time.Hour)))

	f.exchanger.refreshResult = &models.TokenRecord{
		AccessToken: "at-2",
		ExpiresAt:   time.Now().Add(time.Hour).Unix(),
	}
	require.NoError(t, f.store.Refresh(ctx, sess))

	record, err := f.store.GetTokens(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, "rt-1", record.RefreshToken)
}

func TestRefreshFailureLeavesCredentialIntact(t *testing.T) {
	f := newTokenStoreFixture(t)
	ctx := context.Background()

	sess, err := f.sessions.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, f.store.StoreTokens(ctx, sess, liveRecord(time.Hour)))

	f.exchanger.refreshErr = gwerrors.ErrRefreshFailed("invalid_grant")
	err = f.store.Refresh(ctx, sess)
	require.Error(t, err)
	assert.Equal(t, gwerrors.CodeRefreshFailed, gwerrors.CodeOf(err))

	record, err := f.store.GetTokens(ctx, sess)
	require.NoError(t, err)
	require.NotNil(t, record, "failed refresh must not destroy the stored credential")
	assert.Equal(t, "at-1", record.AccessToken)
}

func TestRefreshOutcomesAreCounted(t *testing.T) {
	f := newTokenStoreFixture(t)
	ctx := context.Background()

	sess, err := f.sessions.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, f.store.StoreTokens(ctx, sess, liveRecord(time.Hour)))

	f.exchanger.refreshResult = &models.TokenRecord{
		AccessToken: "at-2",
		ExpiresAt:   time.Now().Add(time.Hour).Unix(),
	}
	require.NoError(t, f.store.Refresh(ctx, sess))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TokenRefreshes.WithLabelValues("success")))

	f.exchanger.refreshErr = gwerrors.ErrRefreshFailed("invalid_grant")
	require.Error(t, f.store.Refresh(ctx, sess))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TokenRefreshes.WithLabelValues("failure")))
}

func TestRefreshRetriesTransientFailures(t *testing.T) {
	f := newTokenStoreFixture(t)
	ctx := context.Background()

	sess, err := f.sessions.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, f.store.StoreTokens(ctx, sess, liveRecord(time.Hour)))

	f.exchanger.refreshErr = gwerrors.ErrNetwork("connection reset")
	_ = f.store.Refresh(ctx, sess)
	assert.Equal(t, 2, f.exchanger.refreshCalls, "one retry is configured for the fixture")
}

func TestRefreshWithoutCredential(t *testing.T) {
	f := newTokenStoreFixture(t)
	ctx := context.Background()

	sess, err := f.sessions.Create(ctx)
	require.NoError(t, err)

	err = f.store.Refresh(ctx, sess)
	assert.Equal(t, gwerrors.CodeUnauthenticated, gwerrors.CodeOf(err))
}

func TestClearTokens(t *testing.T) {
	f := newTokenStoreFixture(t)
	ctx := context.Background()

	sess, err := f.sessions.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, f.store.StoreTokens(ctx, sess, liveRecord(time.Hour)))
	require.NoError(t, f.store.ClearTokens(ctx, sess))

	assert.False(t, f.store.IsAuthenticated(ctx, sess))
	record, err := f.store.GetTokens(ctx, sess)
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestEnsureFreshRefreshesExpiredCredential(t *testing.T) {
	f := newTokenStoreFixture(t)
	ctx := context.Background()

	sess, err := f.sessions.Create(ctx)
	require.NoError(t, err)

	expired := liveRecord(time.Hour)
	expired.ExpiresAt = time.Now().Add(-time.Minute).Unix()
	require.NoError(t, f.store.StoreTokens(ctx, sess, expired))

	f.exchanger.refreshResult = &models.TokenRecord{
		AccessToken:  "at-fresh",
		RefreshToken: "rt-fresh",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
	}

	record, err := f.store.EnsureFresh(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, "at-fresh", record.AccessToken)
}

func TestEnsureFreshSurfacesExpiryWhenRefreshFails(t *testing.T) {
	f := newTokenStoreFixture(t)
	ctx := context.Background()

	sess, err := f.sessions.Create(ctx)
	require.NoError(t, err)

	expired := liveRecord(time.Hour)
	expired.ExpiresAt = time.Now().Add(-time.Minute).Unix()
	require.NoError(t, f.store.StoreTokens(ctx, sess, expired))

	f.exchanger.refreshErr = gwerrors.ErrRefreshFailed("invalid_grant")

	_, err = f.store.EnsureFresh(ctx, sess)
	assert.Equal(t, gwerrors.CodeTokenExpired, gwerrors.CodeOf(err))
}
