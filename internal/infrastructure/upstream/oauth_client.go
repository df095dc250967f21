// Package upstream implements the OAuth and resource client for the single
// provider this gateway fronts.
package upstream

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/veloprint/gateway/internal/config"
	"github.com/veloprint/gateway/internal/domain/models"
	"github.com/veloprint/gateway/internal/domain/service"
	"github.com/veloprint/gateway/pkg/constants"
	"github.com/veloprint/gateway/pkg/errors"
	"github.com/veloprint/gateway/pkg/logger"
)

// OAuthClient exchanges, refreshes, and revokes tokens against the provider.
type OAuthClient struct {
	oauth     *oauth2.Config
	revokeURL string
	log       logger.Logger

	// httpClient handles the revoke call, which x/oauth2 has no helper for.
	httpClient *http.Client
}

var _ service.TokenExchanger = (*OAuthClient)(nil)

// NewOAuthClient builds the provider client from configuration.
func NewOAuthClient(cfg *config.UpstreamConfig, log logger.Logger) *OAuthClient {
	requestTimeout := time.Duration(cfg.RequestTimeout) * time.Second
	if requestTimeout <= 0 {
		requestTimeout = constants.DefaultUpstreamTimeout
	}
	revokeTimeout := time.Duration(cfg.RevokeTimeout) * time.Second
	if revokeTimeout <= 0 {
		revokeTimeout = constants.DefaultRevokeTimeout
	}

	return &OAuthClient{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		revokeURL:  cfg.RevokeURL,
		log:        log.WithComponent("oauth_client"),
		httpClient: &http.Client{Timeout: revokeTimeout},
	}
}

// AuthCodeURL builds the provider login redirect carrying the signed state.
func (c *OAuthClient) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange swaps an authorization code for a credential. The provider embeds
// the account object in the token response; its id becomes the subject.
func (c *OAuthClient) Exchange(ctx context.Context, code string) (*models.TokenRecord, error) {
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, classifyOAuthErr(err, "authorization code exchange failed")
	}
	return c.toRecord(tok), nil
}

// Refresh mints fresh credentials from a refresh token. The provider may or
// may not rotate the refresh token; an unchanged one comes back as-is.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (*models.TokenRecord, error) {
	src := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classifyOAuthErr(err, "token refresh failed")
	}
	return c.toRecord(tok), nil
}

// Revoke invalidates a token at the provider. Best effort: callers log and
// continue on failure.
func (c *OAuthClient) Revoke(ctx context.Context, accessToken string) error {
	if c.revokeURL == "" || accessToken == "" {
		return nil
	}

	form := url.Values{"access_token": {accessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.ErrNetwork("building revoke request: " + err.Error())
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.ErrNetwork("revoke request failed: " + err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errors.ErrUpstreamUnavailable("revoke rejected with status " + resp.Status)
	}
	return nil
}

func (c *OAuthClient) toRecord(tok *oauth2.Token) *models.TokenRecord {
	now := time.Now()
	rec := &models.TokenRecord{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry.Unix(),
		StoredAt:     now,
	}
	if tok.Expiry.IsZero() {
		rec.ExpiresAt = now.Add(time.Hour).Unix()
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		rec.Scope = scope
	}
	rec.SubjectID = subjectFromToken(tok)
	return rec
}

// subjectFromToken pulls the account id the provider embeds in its token
// response, either as a nested account object or a flat field.
func subjectFromToken(tok *oauth2.Token) int64 {
	if athlete, ok := tok.Extra("athlete").(map[string]interface{}); ok {
		if id, ok := athlete["id"].(float64); ok {
			return int64(id)
		}
	}
	if id, ok := tok.Extra("user_id").(float64); ok {
		return int64(id)
	}
	return 0
}

// classifyOAuthErr maps x/oauth2 failures onto the gateway taxonomy. A
// RetrieveError carries the provider's HTTP status; anything else is network.
func classifyOAuthErr(err error, message string) error {
	var retrieveErr *oauth2.RetrieveError
	if stderrors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		switch {
		case retrieveErr.Response.StatusCode == http.StatusTooManyRequests:
			return errors.ErrUpstreamRateLimited(parseRetryAfter(retrieveErr.Response))
		case retrieveErr.Response.StatusCode >= 500:
			return errors.ErrUpstreamUnavailable(message + ": " + retrieveErr.Response.Status)
		default:
			return errors.ErrRefreshFailed(message + ": " + retrieveErr.Response.Status).WithCause(err)
		}
	}
	return errors.ErrNetwork(message + ": " + err.Error())
}
