package upstream

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/veloprint/gateway/internal/config"
	"github.com/veloprint/gateway/internal/domain/models"
	"github.com/veloprint/gateway/pkg/constants"
	"github.com/veloprint/gateway/pkg/errors"
	"github.com/veloprint/gateway/pkg/logger"
)

// maxResponseBytes caps a single upstream body. Streams are the largest
// legitimate payload and stay well under this.
const maxResponseBytes = 16 << 20

// ResourceClient performs authenticated reads against the provider API and
// reports the rate-limit headers of every completed response.
type ResourceClient struct {
	baseURL    string
	httpClient *http.Client
	log        logger.Logger
}

// NewResourceClient builds the API client from configuration.
func NewResourceClient(cfg *config.UpstreamConfig, log logger.Logger) *ResourceClient {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = constants.DefaultUpstreamTimeout
	}
	return &ResourceClient{
		baseURL:    strings.TrimRight(cfg.APIBaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        log.WithComponent("resource_client"),
	}
}

// Get fetches path under the API base with the bearer token. The returned
// report carries status and rate-limit headers whenever a response completed,
// including error responses; a nil report means nothing reached the provider.
func (c *ResourceClient) Get(ctx context.Context, accessToken, path string, query url.Values) ([]byte, *models.UpstreamReport, error) {
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, errors.ErrNetwork("building upstream request: " + err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, errors.ErrNetwork("upstream request failed: " + err.Error())
	}
	defer resp.Body.Close()

	report := reportOf(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, report, errors.ErrNetwork("reading upstream response: " + err.Error())
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, report, errors.ErrTokenExpired("provider rejected the access token")
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, report, errors.ErrUpstreamRateLimited(parseRetryAfter(resp))
	case resp.StatusCode >= 500:
		return nil, report, errors.ErrUpstreamUnavailable("provider returned " + resp.Status)
	case resp.StatusCode >= 400:
		return nil, report, errors.ErrUpstreamRejected(resp.StatusCode, "provider rejected the request with "+resp.Status).
			WithMetadata("status", resp.StatusCode)
	}

	return body, report, nil
}

// reportOf captures the status and the provider's quota headers. Only headers
// from this completed response make it into the report.
func reportOf(resp *http.Response) *models.UpstreamReport {
	headers := make(map[string]string, 2)
	for _, name := range []string{constants.HeaderUpstreamUsageShort, constants.HeaderUpstreamLimitShort} {
		if v := resp.Header.Get(name); v != "" {
			headers[name] = v
		}
	}
	return &models.UpstreamReport{
		Status:  resp.StatusCode,
		Headers: headers,
	}
}

func parseRetryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get(constants.HeaderRetryAfter); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Minute
}
