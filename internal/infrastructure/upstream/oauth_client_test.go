package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloprint/gateway/internal/config"
	gwerrors "github.com/veloprint/gateway/pkg/errors"
	"github.com/veloprint/gateway/pkg/logger"
)

func newOAuthClient(t *testing.T, handler http.HandlerFunc) *OAuthClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewOAuthClient(&config.UpstreamConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AuthURL:      srv.URL + "/oauth/authorize",
		TokenURL:     srv.URL + "/oauth/token",
		RevokeURL:    srv.URL + "/oauth/deauthorize",
		RedirectURL:  "https://gw.example.com/auth/callback",
		Scopes:       []string{"activity:read_all"},
	}, logger.NewNoopLogger())
}

func TestExchangeParsesSubjectFromTokenResponse(t *testing.T) {
	expiry := time.Now().Add(6 * time.Hour).Unix()
	client := newOAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "auth-code-1", r.FormValue("code"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"access_token": "at-1",
			"refresh_token": "rt-1",
			"token_type": "Bearer",
			"expires_at": %d,
			"expires_in": 21600,
			"athlete": {"id": 134815, "username": "touring_rider"}
		}`, expiry)
	})

	rec, err := client.Exchange(context.Background(), "auth-code-1")
	require.NoError(t, err)

	assert.Equal(t, "at-1", rec.AccessToken)
	assert.Equal(t, "rt-1", rec.RefreshToken)
	assert.Equal(t, int64(134815), rec.SubjectID)
	assert.False(t, rec.StoredAt.IsZero())
	assert.Greater(t, rec.ExpiresAt, time.Now().Unix())
}

func TestRefreshMintsNewCredential(t *testing.T) {
	client := newOAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.FormValue("grant_type"))
		assert.Equal(t, "rt-old", r.FormValue("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"access_token": "at-new",
			"refresh_token": "rt-new",
			"token_type": "Bearer",
			"expires_in": 21600
		}`)
	})

	rec, err := client.Refresh(context.Background(), "rt-old")
	require.NoError(t, err)
	assert.Equal(t, "at-new", rec.AccessToken)
	assert.Equal(t, "rt-new", rec.RefreshToken)
}

func TestRefreshFailureClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode gwerrors.ErrorCode
	}{
		{
			name:     "invalid grant",
			status:   http.StatusBadRequest,
			body:     `{"error": "invalid_grant"}`,
			wantCode: gwerrors.CodeRefreshFailed,
		},
		{
			name:     "provider rate limited",
			status:   http.StatusTooManyRequests,
			body:     `{"error": "rate limit exceeded"}`,
			wantCode: gwerrors.CodeUpstreamRateLimited,
		},
		{
			name:     "provider down",
			status:   http.StatusBadGateway,
			body:     `upstream error`,
			wantCode: gwerrors.CodeUpstreamUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newOAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			_, err := client.Refresh(context.Background(), "rt-old")
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, gwerrors.CodeOf(err))
		})
	}
}

func TestRevoke(t *testing.T) {
	var gotToken string
	client := newOAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotToken = r.FormValue("access_token")
	})

	require.NoError(t, client.Revoke(context.Background(), "at-1"))
	assert.Equal(t, "at-1", gotToken)
}

func TestRevokeSkipsWithoutToken(t *testing.T) {
	called := false
	client := newOAuthClient(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	require.NoError(t, client.Revoke(context.Background(), ""))
	assert.False(t, called)
}

func TestRevokeRejectionSurfaces(t *testing.T) {
	client := newOAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	err := client.Revoke(context.Background(), "at-1")
	require.Error(t, err)
	assert.Equal(t, gwerrors.CodeUpstreamUnavailable, gwerrors.CodeOf(err))
}

func TestAuthCodeURLCarriesState(t *testing.T) {
	client := newOAuthClient(t, func(w http.ResponseWriter, r *http.Request) {})

	u := client.AuthCodeURL("signed-state")
	assert.Contains(t, u, "state=signed-state")
	assert.Contains(t, u, "client_id=client-id")
	assert.Contains(t, u, "access_type=offline")
	assert.Contains(t, u, "scope=activity%3Aread_all")
}
