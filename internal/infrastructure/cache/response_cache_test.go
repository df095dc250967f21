package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloprint/gateway/internal/infrastructure/cache"
	"github.com/veloprint/gateway/internal/infrastructure/monitoring"
	"github.com/veloprint/gateway/pkg/logger"
)

func fixedTTL(d time.Duration) cache.TTLResolver {
	return func(string) time.Duration { return d }
}

func TestResponseCache_HitWithinTTL(t *testing.T) {
	c := cache.NewResponseCache(fixedTTL(time.Minute), time.Minute, nil, logger.NewNoopLogger())
	ctx := context.Background()

	calls := 0
	producer := func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte("payload"), nil
	}

	got, err := c.GetOrFetch(ctx, "activity_detail", "a1", producer)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	got, err = c.GetOrFetch(ctx, "activity_detail", "a1", producer)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
	assert.Equal(t, 1, calls, "second read must be served from cache")
}

func TestResponseCache_ExpiryTriggersFreshFetch(t *testing.T) {
	c := cache.NewResponseCache(fixedTTL(30*time.Millisecond), time.Minute, nil, logger.NewNoopLogger())
	ctx := context.Background()

	calls := 0
	producer := func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte("v"), nil
	}

	_, err := c.GetOrFetch(ctx, "activity_list", "k", producer)
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	_, err = c.GetOrFetch(ctx, "activity_list", "k", producer)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "entry at or past expiry is absent")
}

func TestResponseCache_ProducerErrorNotCached(t *testing.T) {
	c := cache.NewResponseCache(fixedTTL(time.Minute), time.Minute, nil, logger.NewNoopLogger())
	ctx := context.Background()

	calls := 0
	boom := errors.New("upstream down")
	producer := func(ctx context.Context) ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return []byte("ok"), nil
	}

	_, err := c.GetOrFetch(ctx, "athlete_stats", "k", producer)
	require.ErrorIs(t, err, boom)

	got, err := c.GetOrFetch(ctx, "athlete_stats", "k", producer)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), got)
}

func TestResponseCache_ConcurrentMissesCoalesce(t *testing.T) {
	c := cache.NewResponseCache(fixedTTL(time.Minute), time.Minute, nil, logger.NewNoopLogger())
	ctx := context.Background()

	var calls atomic.Int64
	producer := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return []byte("shared"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.GetOrFetch(ctx, "activity_stream", "hot", producer)
			require.NoError(t, err)
			assert.Equal(t, []byte("shared"), got)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load(), "one producer call feeds all waiters")
}

func TestResponseCache_ProducerSurvivesCallerCancellation(t *testing.T) {
	c := cache.NewResponseCache(fixedTTL(time.Minute), time.Minute, nil, logger.NewNoopLogger())

	started := make(chan struct{})
	release := make(chan struct{})
	producer := func(ctx context.Context) ([]byte, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []byte("shared"), nil
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, err := c.GetOrFetch(firstCtx, "activity_detail", "a1", producer)
		firstDone <- err
	}()
	<-started

	// a second caller coalesces onto the in-flight producer, then the
	// request that started it disconnects
	secondDone := make(chan error, 1)
	go func() {
		_, err := c.GetOrFetch(context.Background(), "activity_detail", "a1", func(ctx context.Context) ([]byte, error) {
			t.Error("coalesced caller must not run its own producer")
			return nil, nil
		})
		secondDone <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancelFirst()
	close(release)

	require.NoError(t, <-firstDone)
	require.NoError(t, <-secondDone, "first caller's disconnect must not fail coalesced waiters")

	got, err := c.GetOrFetch(context.Background(), "activity_detail", "a1", producer)
	require.NoError(t, err)
	assert.Equal(t, []byte("shared"), got, "the fill landed despite the cancellation")
}

func TestResponseCache_RecordsHitAndMissCounters(t *testing.T) {
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	c := cache.NewResponseCache(fixedTTL(time.Minute), time.Minute, metrics, logger.NewNoopLogger())
	ctx := context.Background()

	producer := func(ctx context.Context) ([]byte, error) { return []byte("v"), nil }

	_, err := c.GetOrFetch(ctx, "activity_list", "k", producer)
	require.NoError(t, err)
	_, err = c.GetOrFetch(ctx, "activity_list", "k", producer)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheRequests.WithLabelValues("activity_list", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheRequests.WithLabelValues("activity_list", "hit")))
}

func TestResponseCache_InvalidateByUser(t *testing.T) {
	c := cache.NewResponseCache(fixedTTL(time.Minute), time.Minute, nil, logger.NewNoopLogger())
	ctx := context.Background()

	produce := func(v string) func(context.Context) ([]byte, error) {
		return func(ctx context.Context) ([]byte, error) { return []byte(v), nil }
	}

	_, err := c.GetOrFetch(ctx, "activity_list", cache.UserKey(7, "page1"), produce("a"))
	require.NoError(t, err)
	_, err = c.GetOrFetch(ctx, "athlete_stats", cache.UserKey(7, "totals"), produce("b"))
	require.NoError(t, err)
	_, err = c.GetOrFetch(ctx, "activity_list", cache.UserKey(8, "page1"), produce("c"))
	require.NoError(t, err)

	removed := c.Invalidate(ctx, 7)
	assert.Equal(t, 2, removed)

	calls := 0
	_, err = c.GetOrFetch(ctx, "activity_list", cache.UserKey(8, "page1"), func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte("c"), nil
	})
	require.NoError(t, err)
	assert.Zero(t, calls, "other user's entries survive")
}

func TestResponseCache_Stats(t *testing.T) {
	c := cache.NewResponseCache(fixedTTL(time.Minute), time.Minute, nil, logger.NewNoopLogger())
	ctx := context.Background()

	producer := func(ctx context.Context) ([]byte, error) { return []byte("xxxx"), nil }

	_, err := c.GetOrFetch(ctx, "activity_detail", "k", producer)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = c.GetOrFetch(ctx, "activity_detail", "k", producer)
		require.NoError(t, err)
	}

	stats := c.Stats(ctx)
	assert.Equal(t, int64(3), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, 1, stats.Entries)
	assert.InDelta(t, 0.75, stats.HitRate, 0.001)
	assert.Equal(t, int64(4), stats.ApproxBytes)
	assert.Empty(t, stats.Recommendation, "recommendation needs a meaningful sample")
}
