// Package ratelimit provides the gateway's admission control: an in-process
// sliding-window limiter, an optional Redis-backed window for multi-instance
// deployments, and the upstream quota guard.
package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/veloprint/gateway/internal/domain/models"
	"github.com/veloprint/gateway/internal/domain/service"
	"github.com/veloprint/gateway/pkg/constants"
	"github.com/veloprint/gateway/pkg/logger"
)

const windowShards = 32

// window is the per-client ordered arrival sequence, pruned to the sliding
// interval. No timestamp older than now-window survives a prune.
type window struct {
	arrivals []time.Time
	lastSeen time.Time
}

type windowShard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// SlidingWindowLimiter is the in-memory sliding-window pool. Keys are spread
// across shards so unrelated clients never contend on one lock.
type SlidingWindowLimiter struct {
	shards [windowShards]*windowShard
	log    logger.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

var _ service.RateLimitService = (*SlidingWindowLimiter)(nil)

// NewSlidingWindowLimiter creates the pool and starts the idle-client sweep.
func NewSlidingWindowLimiter(log logger.Logger, sweepInterval time.Duration) *SlidingWindowLimiter {
	l := &SlidingWindowLimiter{
		log:  log.WithComponent("ratelimit"),
		stop: make(chan struct{}),
	}
	for i := range l.shards {
		l.shards[i] = &windowShard{windows: make(map[string]*window)}
	}

	if sweepInterval <= 0 {
		sweepInterval = time.Hour
	}
	go l.sweepLoop(sweepInterval)

	return l
}

// Allow records the arrival and decides admission for the key. Arrival order
// is wall-clock order under the shard lock; pruning happens before counting.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string, windowDur time.Duration, max int) (models.AdmissionResult, error) {
	now := time.Now()
	shard := l.shardFor(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	w, ok := shard.windows[key]
	if !ok {
		w = &window{}
		shard.windows[key] = w
	}
	w.lastSeen = now
	w.prune(now, windowDur)

	result := models.AdmissionResult{Limit: max}

	if len(w.arrivals) >= max {
		oldest := w.arrivals[0]
		reset := oldest.Add(windowDur)
		result.Allowed = false
		result.Remaining = 0
		result.ResetAt = reset
		result.RetryAfter = reset.Sub(now)
		if result.RetryAfter < time.Second {
			result.RetryAfter = time.Second
		}
		return result, nil
	}

	w.arrivals = append(w.arrivals, now)
	result.Allowed = true
	result.Remaining = max - len(w.arrivals)
	result.ResetAt = w.arrivals[0].Add(windowDur)
	return result, nil
}

// Reset drops the window for a key.
func (l *SlidingWindowLimiter) Reset(ctx context.Context, key string) error {
	shard := l.shardFor(key)
	shard.mu.Lock()
	delete(shard.windows, key)
	shard.mu.Unlock()
	return nil
}

// Size returns the number of tracked clients, for the ops surface.
func (l *SlidingWindowLimiter) Size() int {
	total := 0
	for _, shard := range l.shards {
		shard.mu.Lock()
		total += len(shard.windows)
		shard.mu.Unlock()
	}
	return total
}

// Close stops the background sweep.
func (l *SlidingWindowLimiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *SlidingWindowLimiter) shardFor(key string) *windowShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return l.shards[h.Sum32()%windowShards]
}

// sweepLoop drops clients with no activity within the idle eviction horizon.
// It runs on its own schedule and is never blocked by foreground requests
// beyond brief per-shard lock holds.
func (l *SlidingWindowLimiter) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			removed := 0
			cutoff := time.Now().Add(-constants.RateWindowIdleEviction)
			for _, shard := range l.shards {
				shard.mu.Lock()
				for key, w := range shard.windows {
					if w.lastSeen.Before(cutoff) {
						delete(shard.windows, key)
						removed++
					}
				}
				shard.mu.Unlock()
			}
			if removed > 0 {
				l.log.Debug(context.Background(), "swept idle rate windows",
					logger.Int("removed", removed))
			}
		}
	}
}

func (w *window) prune(now time.Time, windowDur time.Duration) {
	cutoff := now.Add(-windowDur)
	i := 0
	for i < len(w.arrivals) && !w.arrivals[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.arrivals = append(w.arrivals[:0], w.arrivals[i:]...)
	}
}
