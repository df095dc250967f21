// Package cache implements the TTL-based response cache that fronts all
// upstream resource fetches.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/veloprint/gateway/internal/domain/service"
	"github.com/veloprint/gateway/internal/infrastructure/monitoring"
	"github.com/veloprint/gateway/pkg/constants"
	"github.com/veloprint/gateway/pkg/logger"
)

// TTLResolver maps a namespace to its configured TTL. Volatile namespaces get
// short TTLs, immutable historical data long ones.
type TTLResolver func(namespace string) time.Duration

// ResponseCache is the cache-or-fetch wrapper around upstream calls. Entries
// live in a go-cache store with per-item TTL; the janitor handles the
// proactive sweep and reads re-check expiry reactively. Concurrent misses for
// one key collapse into a single producer call via singleflight.
type ResponseCache struct {
	store   *gocache.Cache
	group   singleflight.Group
	ttlFor  TTLResolver
	metrics *monitoring.Metrics
	log     logger.Logger

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64

	evictMu   sync.Mutex
	evictions map[string]int64
}

var _ service.ResponseCache = (*ResponseCache)(nil)

// NewResponseCache creates the cache with the given sweep interval. A nil
// metrics keeps the cache silent on the Prometheus surface.
func NewResponseCache(ttlFor TTLResolver, sweepInterval time.Duration, metrics *monitoring.Metrics, log logger.Logger) *ResponseCache {
	if sweepInterval <= 0 {
		sweepInterval = 10 * time.Minute
	}

	c := &ResponseCache{
		store:     gocache.New(gocache.NoExpiration, sweepInterval),
		ttlFor:    ttlFor,
		metrics:   metrics,
		log:       log.WithComponent("cache"),
		evictions: make(map[string]int64),
	}
	c.store.OnEvicted(func(key string, _ interface{}) {
		ns := namespaceOf(key)
		c.evictMu.Lock()
		c.evictions[ns]++
		c.evictMu.Unlock()
	})

	return c
}

// GetOrFetch returns the cached value when live, otherwise invokes producer
// and stores the result under the namespace's TTL. The producer runs outside
// any cache lock; waiting on it never blocks other keys.
func (c *ResponseCache) GetOrFetch(ctx context.Context, namespace, key string, producer func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	storeKey := namespace + ":" + key

	if val, ok := c.store.Get(storeKey); ok {
		c.hits.Add(1)
		c.record(namespace, "hit")
		return val.([]byte), nil
	}
	c.misses.Add(1)
	c.record(namespace, "miss")

	val, err, _ := c.group.Do(storeKey, func() (interface{}, error) {
		// another waiter may have filled the entry while we queued
		if cached, ok := c.store.Get(storeKey); ok {
			return cached.([]byte), nil
		}

		// coalesced waiters share this one producer call, so it must not die
		// with whichever request happened to start it
		data, err := producer(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		c.store.Set(storeKey, data, c.ttlFor(namespace))
		c.sets.Add(1)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return val.([]byte), nil
}

// Invalidate drops every entry whose key was derived from the given user and
// returns how many were removed. Entry keys embed the subject as "u<id>".
func (c *ResponseCache) Invalidate(ctx context.Context, subjectID int64) int {
	marker := fmt.Sprintf("u%d:", subjectID)
	removed := 0
	for key := range c.store.Items() {
		if strings.Contains(key, marker) {
			c.store.Delete(key)
			removed++
		}
	}
	if removed > 0 {
		c.log.Debug(ctx, "invalidated cached entries",
			logger.Int64("subject_id", subjectID), logger.Int("removed", removed))
	}
	return removed
}

// UserKey builds a cache key scoped to a subject so Invalidate can find it.
func UserKey(subjectID int64, parts ...string) string {
	return fmt.Sprintf("u%d:%s", subjectID, strings.Join(parts, ":"))
}

// Stats reports effectiveness counters plus an operational recommendation.
func (c *ResponseCache) Stats(ctx context.Context) service.CacheStats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	stats := service.CacheStats{
		Hits:      hits,
		Misses:    misses,
		Sets:      c.sets.Load(),
		Entries:   c.store.ItemCount(),
		Evictions: make(map[string]int64),
	}

	c.evictMu.Lock()
	for ns, n := range c.evictions {
		stats.Evictions[ns] = n
	}
	c.evictMu.Unlock()

	var approx int64
	for _, item := range c.store.Items() {
		if b, ok := item.Object.([]byte); ok {
			approx += int64(len(b))
		}
	}
	stats.ApproxBytes = approx

	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
		if total >= 100 && stats.HitRate < 0.30 {
			stats.Recommendation = "hit rate below 30%: consider raising namespace TTLs or widening cache keys"
		}
	}
	return stats
}

func (c *ResponseCache) record(namespace, outcome string) {
	if c.metrics != nil {
		c.metrics.RecordCacheRequest(constants.CacheNamespace(namespace), outcome)
	}
}

func namespaceOf(storeKey string) string {
	if i := strings.IndexByte(storeKey, ':'); i > 0 {
		return storeKey[:i]
	}
	return storeKey
}
