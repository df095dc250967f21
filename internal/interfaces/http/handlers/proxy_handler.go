package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/veloprint/gateway/internal/domain/models"
	"github.com/veloprint/gateway/internal/domain/service"
	"github.com/veloprint/gateway/internal/infrastructure/cache"
	"github.com/veloprint/gateway/internal/infrastructure/monitoring"
	"github.com/veloprint/gateway/internal/infrastructure/resilience"
	"github.com/veloprint/gateway/internal/infrastructure/upstream"
	"github.com/veloprint/gateway/internal/interfaces/http/middleware"
	"github.com/veloprint/gateway/internal/interfaces/http/respond"
	"github.com/veloprint/gateway/pkg/constants"
	gwerrors "github.com/veloprint/gateway/pkg/errors"
	"github.com/veloprint/gateway/pkg/logger"
)

// ProxyHandler is the gated read path to the provider API: admission has
// already happened in middleware; here the order is cache, quota guard,
// circuit breaker, retry, upstream.
type ProxyHandler struct {
	resources *upstream.ResourceClient
	cache     service.ResponseCache
	quota     service.QuotaGuard
	breaker   *resilience.CircuitBreaker
	executor  *resilience.Executor

	maxRetries int
	baseDelay  time.Duration

	metrics *monitoring.Metrics
	log     logger.Logger
}

// NewProxyHandler wires the proxy path.
func NewProxyHandler(
	resources *upstream.ResourceClient,
	responseCache service.ResponseCache,
	quota service.QuotaGuard,
	breaker *resilience.CircuitBreaker,
	executor *resilience.Executor,
	maxRetries int,
	baseDelay time.Duration,
	metrics *monitoring.Metrics,
	log logger.Logger,
) *ProxyHandler {
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	return &ProxyHandler{
		resources:  resources,
		cache:      responseCache,
		quota:      quota,
		breaker:    breaker,
		executor:   executor,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		metrics:    metrics,
		log:        log.WithComponent("proxy_handler"),
	}
}

// Fetch serves GET /api/*path through the cache-quota-breaker-retry pipeline.
func (h *ProxyHandler) Fetch(c *gin.Context) {
	path := strings.TrimPrefix(c.Param("path"), "/")
	if path == "" {
		respond.Error(c, gwerrors.NewError(gwerrors.CodeServerError, http.StatusBadRequest, "empty api path", false))
		return
	}

	accessToken := middleware.AccessTokenFrom(c)
	subjectID := middleware.SubjectFrom(c)
	query := c.Request.URL.Query()

	namespace := namespaceFor(path)
	operation := "fetch_" + string(namespace)
	key := cache.UserKey(subjectID, path, query.Encode())

	body, err := h.cache.GetOrFetch(c.Request.Context(), string(namespace), key, func(ctx context.Context) ([]byte, error) {
		if err := h.quota.CheckSafe(); err != nil {
			return nil, err
		}

		var payload []byte
		err := h.breaker.Execute(ctx, operation, func(ctx context.Context) error {
			return h.executor.ExecuteWithRetry(ctx, func(ctx context.Context) error {
				start := time.Now()
				b, report, callErr := h.resources.Get(ctx, accessToken, path, query)
				if report != nil {
					h.recordReport(*report, time.Since(start), operation)
				}
				if callErr != nil {
					return callErr
				}
				payload = b
				return nil
			}, resilience.RetryOptions{
				MaxRetries: h.maxRetries,
				BaseDelay:  h.baseDelay,
				Context:    operation,
			})
		})
		if err != nil {
			return h.fetchDegraded(ctx, accessToken, path, query, operation, err)
		}
		return payload, nil
	})
	if err != nil {
		respond.Error(c, err)
		return
	}

	c.Data(http.StatusOK, "application/json", body)
}

// fetchDegraded walks the degradation ladder after the retry pipeline gave
// up: each step retries the upstream once with a cheaper request shape until
// a call succeeds or no cheaper shape remains. An open circuit is returned
// as-is so degraded calls cannot sneak past a tripped breaker.
func (h *ProxyHandler) fetchDegraded(ctx context.Context, accessToken, path string, query url.Values, operation string, cause error) ([]byte, error) {
	if gwerrors.CodeOf(cause) == gwerrors.CodeCircuitOpen {
		return nil, cause
	}

	opts := optionsFromQuery(query)
	for {
		next, ok := resilience.Degrade(opts, cause)
		if !ok {
			return nil, cause
		}
		opts = next

		h.log.Warn(ctx, "retrying upstream at reduced fidelity",
			logger.String("operation", operation),
			logger.Int("page_size", opts.PageSize),
			logger.String("resolution", opts.Resolution))

		start := time.Now()
		b, report, err := h.resources.Get(ctx, accessToken, path, applyOptions(query, opts))
		if report != nil {
			h.recordReport(*report, time.Since(start), operation)
		}
		if err == nil {
			return b, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		cause = err
	}
}

// optionsFromQuery seeds the fidelity options from what the client asked for.
func optionsFromQuery(query url.Values) resilience.FetchOptions {
	opts := resilience.DefaultFetchOptions()
	if v, err := strconv.Atoi(query.Get("per_page")); err == nil && v > 0 {
		opts.PageSize = v
	}
	if r := query.Get("resolution"); r != "" {
		opts.Resolution = r
	}
	return opts
}

// applyOptions rewrites the fidelity parameters the provider understands.
func applyOptions(query url.Values, opts resilience.FetchOptions) url.Values {
	q := url.Values{}
	for k, vs := range query {
		q[k] = vs
	}
	q.Set("per_page", strconv.Itoa(opts.PageSize))
	if query.Get("resolution") != "" || !opts.IncludeStreams {
		q.Set("resolution", opts.Resolution)
	}
	return q
}

func (h *ProxyHandler) recordReport(report models.UpstreamReport, latency time.Duration, operation string) {
	h.quota.Record(report)
	h.metrics.RecordUpstreamCall(operation, latency)

	snap := h.quota.Snapshot()
	short, daily := 0.0, 0.0
	if snap.LimitShort > 0 {
		short = float64(snap.UsageShort) / float64(snap.LimitShort)
	}
	if snap.LimitDaily > 0 {
		daily = float64(snap.UsageDaily) / float64(snap.LimitDaily)
	}
	h.metrics.RecordQuotaUtilization(short, daily)
}

// namespaceFor buckets an API path into its cache namespace. Unknown paths
// share the list namespace's short TTL, the safe default for mutable data.
func namespaceFor(path string) constants.CacheNamespace {
	segs := strings.Split(path, "/")
	switch {
	case segs[0] == "activities" && len(segs) >= 3 && segs[2] == "streams":
		return constants.NamespaceActivityStream
	case segs[0] == "activities" && len(segs) == 2:
		return constants.NamespaceActivityDetail
	case segs[0] == "activities":
		return constants.NamespaceActivityList
	case segs[0] == "athlete" && len(segs) == 1:
		return constants.NamespaceAthleteProfile
	case segs[0] == "athletes" && len(segs) >= 3 && segs[2] == "stats":
		return constants.NamespaceAthleteStats
	case segs[0] == "athlete" && len(segs) >= 2 && segs[1] == "activities":
		return constants.NamespaceActivityList
	default:
		return constants.NamespaceActivityList
	}
}
