// Package service implements the application-layer services that orchestrate
// the domain over the infrastructure.
package service

import (
	"context"
	"time"

	"github.com/veloprint/gateway/internal/domain/models"
	"github.com/veloprint/gateway/internal/domain/service"
	"github.com/veloprint/gateway/internal/infrastructure/monitoring"
	"github.com/veloprint/gateway/internal/infrastructure/resilience"
	"github.com/veloprint/gateway/pkg/errors"
	"github.com/veloprint/gateway/pkg/logger"
)

// TokenStore is the credential layer: it binds encrypted token records to
// sessions, rotates ids before every write, and orchestrates refresh.
type TokenStore struct {
	crypto    service.CryptoService
	sessions  service.SessionStore
	exchanger service.TokenExchanger
	executor  *resilience.Executor
	metrics   *monitoring.Metrics
	log       logger.Logger

	refreshRetries int
	refreshDelay   time.Duration
}

var _ service.TokenService = (*TokenStore)(nil)

// NewTokenStore wires the credential layer.
func NewTokenStore(
	crypto service.CryptoService,
	sessions service.SessionStore,
	exchanger service.TokenExchanger,
	executor *resilience.Executor,
	metrics *monitoring.Metrics,
	refreshRetries int,
	refreshDelay time.Duration,
	log logger.Logger,
) *TokenStore {
	if refreshRetries < 0 {
		refreshRetries = 0
	}
	if refreshDelay <= 0 {
		refreshDelay = 500 * time.Millisecond
	}
	return &TokenStore{
		crypto:         crypto,
		sessions:       sessions,
		exchanger:      exchanger,
		executor:       executor,
		metrics:        metrics,
		log:            log.WithComponent("token_store"),
		refreshRetries: refreshRetries,
		refreshDelay:   refreshDelay,
	}
}

// StoreTokens validates the record, rotates the session id, and writes the
// encrypted blob keyed to the new id. Rotation strictly precedes the write so
// a cookie captured before login never addresses a credential.
func (t *TokenStore) StoreTokens(ctx context.Context, sess *models.Session, record *models.TokenRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	newID, err := t.sessions.Rotate(ctx, sess)
	if err != nil {
		return err
	}

	record.SessionID = newID
	now := time.Now()
	if record.StoredAt.IsZero() {
		record.StoredAt = now
	}
	record.UpdatedAt = now

	blob, err := t.crypto.Encrypt(record)
	if err != nil {
		return err
	}

	sess.TokenBlob = blob
	if err := t.sessions.Save(ctx, sess); err != nil {
		return err
	}

	t.log.Info(ctx, "stored credential",
		logger.Int64("subject_id", record.SubjectID),
		logger.Int64("expires_at", record.ExpiresAt))
	return nil
}

// GetTokens decrypts the session's blob. Absence, decryption failure, and a
// session-id mismatch all come back as (nil, nil); the latter two also clear
// the blob so the bad state cannot recur.
func (t *TokenStore) GetTokens(ctx context.Context, sess *models.Session) (*models.TokenRecord, error) {
	if sess == nil || sess.TokenBlob == nil {
		return nil, nil
	}

	record, err := t.crypto.Decrypt(sess.TokenBlob)
	if err != nil {
		t.log.Warn(ctx, "token blob failed decryption, clearing",
			logger.String("session_id", sess.ID))
		t.clearBlob(ctx, sess)
		return nil, nil
	}

	if record.SessionID != sess.ID {
		t.log.Warn(ctx, "token record bound to a different session, clearing",
			logger.String("session_id", sess.ID))
		t.clearBlob(ctx, sess)
		return nil, nil
	}

	return record, nil
}

// IsAuthenticated reports presence of a live, unexpired credential.
func (t *TokenStore) IsAuthenticated(ctx context.Context, sess *models.Session) bool {
	record, err := t.GetTokens(ctx, sess)
	if err != nil || record == nil {
		return false
	}
	return !record.IsExpired(time.Now())
}

// Refresh exchanges the refresh token for new credentials and re-encrypts the
// merged record. Concurrent refreshes race benignly: both results are valid
// upstream and the later write wins. Failure leaves the stored data intact.
func (t *TokenStore) Refresh(ctx context.Context, sess *models.Session) error {
	record, err := t.GetTokens(ctx, sess)
	if err != nil {
		return err
	}
	if record == nil {
		return errors.ErrUnauthenticated("no credential to refresh")
	}
	if record.RefreshToken == "" {
		return errors.ErrRefreshFailed("stored credential has no refresh token")
	}

	var fresh *models.TokenRecord
	err = t.executor.ExecuteWithRetry(ctx, func(ctx context.Context) error {
		var innerErr error
		fresh, innerErr = t.exchanger.Refresh(ctx, record.RefreshToken)
		return innerErr
	}, resilience.RetryOptions{
		MaxRetries: t.refreshRetries,
		BaseDelay:  t.refreshDelay,
		Context:    "token_refresh",
	})
	if err != nil {
		t.recordRefresh("failure")
		t.log.Warn(ctx, "token refresh failed, keeping existing credential",
			logger.Int64("subject_id", record.SubjectID),
			logger.Error(err))
		return errors.ErrRefreshFailed("upstream refresh failed").WithCause(err)
	}
	t.recordRefresh("success")

	record.MergeRefresh(fresh.AccessToken, fresh.RefreshToken, fresh.ExpiresAt, time.Now())

	blob, err := t.crypto.Encrypt(record)
	if err != nil {
		return err
	}
	sess.TokenBlob = blob
	if err := t.sessions.Save(ctx, sess); err != nil {
		return err
	}

	t.log.Info(ctx, "refreshed credential",
		logger.Int64("subject_id", record.SubjectID),
		logger.Int64("expires_at", record.ExpiresAt))
	return nil
}

// ClearTokens drops the session's credential.
func (t *TokenStore) ClearTokens(ctx context.Context, sess *models.Session) error {
	if sess == nil {
		return nil
	}
	sess.TokenBlob = nil
	return t.sessions.Save(ctx, sess)
}

// EnsureFresh returns a live credential, refreshing once when the stored one
// has expired. An expired credential that cannot be refreshed reads as a
// token-expired failure, not a silent absence.
func (t *TokenStore) EnsureFresh(ctx context.Context, sess *models.Session) (*models.TokenRecord, error) {
	record, err := t.GetTokens(ctx, sess)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errors.ErrUnauthenticated("no credential for session")
	}
	if !record.IsExpired(time.Now()) {
		return record, nil
	}

	if err := t.Refresh(ctx, sess); err != nil {
		return nil, errors.ErrTokenExpired("credential expired and refresh failed").WithCause(err)
	}

	record, err = t.GetTokens(ctx, sess)
	if err != nil {
		return nil, err
	}
	if record == nil || record.IsExpired(time.Now()) {
		return nil, errors.ErrTokenExpired("credential still expired after refresh")
	}
	return record, nil
}

func (t *TokenStore) recordRefresh(result string) {
	if t.metrics != nil {
		t.metrics.RecordTokenRefresh(result)
	}
}

func (t *TokenStore) clearBlob(ctx context.Context, sess *models.Session) {
	sess.TokenBlob = nil
	if err := t.sessions.Save(ctx, sess); err != nil {
		t.log.Warn(ctx, "failed to clear stale token blob",
			logger.String("session_id", sess.ID),
			logger.Error(err))
	}
}
