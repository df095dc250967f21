package ratelimit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloprint/gateway/internal/infrastructure/ratelimit"
	"github.com/veloprint/gateway/pkg/logger"
)

func newLimiter(t *testing.T) *ratelimit.SlidingWindowLimiter {
	t.Helper()
	l := ratelimit.NewSlidingWindowLimiter(logger.NewNoopLogger(), time.Hour)
	t.Cleanup(l.Close)
	return l
}

func TestSlidingWindow_AdmitsUpToBudget(t *testing.T) {
	l := newLimiter(t)
	ctx := context.Background()

	const max = 50
	window := 15 * time.Minute

	for i := 0; i < max; i++ {
		res, err := l.Allow(ctx, "client-a", window, max)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should be admitted", i+1)
		assert.Equal(t, max-i-1, res.Remaining)
	}

	// the 51st within the same window is rejected with a populated hint
	res, err := l.Allow(ctx, "client-a", window, max)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Zero(t, res.Remaining)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, res.RetryAfter, window)
	assert.WithinDuration(t, time.Now().Add(window), res.ResetAt, 2*time.Second)
}

func TestSlidingWindow_WindowSlides(t *testing.T) {
	l := newLimiter(t)
	ctx := context.Background()

	window := 50 * time.Millisecond
	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "client-b", window, 3)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	res, err := l.Allow(ctx, "client-b", window, 3)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	time.Sleep(window + 10*time.Millisecond)

	res, err = l.Allow(ctx, "client-b", window, 3)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "old arrivals must not survive a prune")
}

func TestSlidingWindow_KeysIndependent(t *testing.T) {
	l := newLimiter(t)
	ctx := context.Background()

	window := time.Minute
	for i := 0; i < 2; i++ {
		res, err := l.Allow(ctx, "client-c", window, 2)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	res, err := l.Allow(ctx, "client-c", window, 2)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	res, err = l.Allow(ctx, "client-d", window, 2)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "another client should be unaffected")
}

func TestSlidingWindow_Reset(t *testing.T) {
	l := newLimiter(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := l.Allow(ctx, "client-e", time.Minute, 2)
		require.NoError(t, err)
	}
	require.NoError(t, l.Reset(ctx, "client-e"))

	res, err := l.Allow(ctx, "client-e", time.Minute, 2)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)
}

func TestSlidingWindow_ConcurrentAdmission(t *testing.T) {
	l := newLimiter(t)
	ctx := context.Background()

	const max = 100
	const attempts = 250

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Allow(ctx, "client-f", time.Minute, max)
			require.NoError(t, err)
			if res.Allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, max, admitted, "exactly the budget is admitted under contention")
}
