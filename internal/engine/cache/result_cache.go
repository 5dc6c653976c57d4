// Package cache provides the bounded, time-expiring result cache in front of
// the detection pipeline. Per key the lifecycle is absent -> computing ->
// present -> expired -> absent: concurrent misses for one key share a single
// in-flight computation, expiry is an absolute TTL (the 5-minute freshness
// contract, not a sliding window), and capacity pressure evicts the least
// recently accessed entry after expired ones.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/singleflight"

	"github.com/buildsense/buildsense-backend/internal/pkg/metrics"
)

// ErrComputePending is returned to a caller whose context expires while the
// shared computation is still running. The computation itself keeps going for
// the other waiters; this is "slow", not "failed".
var ErrComputePending = errors.New("cache: computation still in flight")

// Config tunes the cache. Zero values fall back to defaults.
type Config struct {
	// TTL is the absolute freshness window for an entry (default 5m).
	TTL time.Duration
	// Capacity is the maximum entry count (default 128).
	Capacity int
	// ComputeTimeout bounds one computation regardless of caller contexts
	// (default 2m). Zero disables the bound.
	ComputeTimeout time.Duration
	// Now is injectable for tests.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	if c.Capacity <= 0 {
		c.Capacity = 128
	}
	if c.ComputeTimeout == 0 {
		c.ComputeTimeout = 2 * time.Minute
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

type entry[V any] struct {
	value        V
	insertedAt   time.Time
	expiresAt    time.Time
	lastAccessed time.Time
}

// Cache is a TTL+LRU cache with single-flight computation per key. Construct
// with New and release with Close; there is no package-level instance, so
// tests control time and never share state.
type Cache[V any] struct {
	cfg Config

	mu  sync.Mutex
	lru *simplelru.LRU[string, *entry[V]]
	sf  singleflight.Group

	done chan struct{}
}

// New constructs a cache and starts its expiry sweeper. The sweeper is an
// optimization: reads check expiry themselves, so correctness never depends
// on sweep timing.
func New[V any](cfg Config) *Cache[V] {
	cfg = cfg.withDefaults()
	lru, err := simplelru.NewLRU[string, *entry[V]](cfg.Capacity, nil)
	if err != nil {
		// Only possible with capacity <= 0, which withDefaults prevents.
		panic(err)
	}
	c := &Cache[V]{
		cfg:  cfg,
		lru:  lru,
		done: make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Close stops the sweeper. Safe to call once.
func (c *Cache[V]) Close() {
	close(c.done)
}

// Get returns a fresh entry if present. A value whose TTL has passed is never
// returned, even before the sweeper has removed it.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	now := c.cfg.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Get(key)
	if !ok {
		return zero, false
	}
	if !now.Before(e.expiresAt) {
		c.lru.Remove(key)
		metrics.ResultCacheEvictionsTotal.WithLabelValues("ttl").Inc()
		return zero, false
	}
	e.lastAccessed = now
	return e.value, true
}

// GetOrCompute returns the cached value for key, or runs compute exactly once
// across all concurrent callers of the same key and caches its result.
// The boolean reports a cache hit. The computation is owned by the cache: it
// runs on a context detached from any single caller, so one caller's
// cancellation cannot abort a result other waiters are blocked on. A caller
// whose context ends first gets ErrComputePending.
//
// A failed computation is delivered to every waiter and caches nothing; the
// key returns to absent so the next request retries instead of wedging.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, compute func(context.Context) (V, error)) (V, bool, error) {
	var zero V
	if v, ok := c.Get(key); ok {
		metrics.ResultCacheHitsTotal.Inc()
		return v, true, nil
	}
	metrics.ResultCacheMissesTotal.Inc()

	ch := c.sf.DoChan(key, func() (interface{}, error) {
		// Another caller may have populated the key between our miss and
		// this flight starting.
		if v, ok := c.Get(key); ok {
			return v, nil
		}

		computeCtx := context.WithoutCancel(ctx)
		if c.cfg.ComputeTimeout > 0 {
			var cancel context.CancelFunc
			computeCtx, cancel = context.WithTimeout(computeCtx, c.cfg.ComputeTimeout)
			defer cancel()
		}

		v, err := compute(computeCtx)
		if err != nil {
			return zero, err
		}
		c.store(key, v)
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, false, res.Err
		}
		if res.Shared {
			metrics.SingleflightSharedTotal.Inc()
		}
		return res.Val.(V), false, nil
	case <-ctx.Done():
		return zero, false, ErrComputePending
	}
}

// Len reports the current entry count, expired entries included until swept.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// store inserts a freshly computed value. Expired entries are purged first so
// TTL expiry always wins over LRU pressure; only then may the least recently
// accessed survivor be evicted for capacity.
func (c *Cache[V]) store(key string, value V) {
	now := c.cfg.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeExpiredLocked(now)
	if c.lru.Len() >= c.cfg.Capacity {
		if _, _, ok := c.lru.RemoveOldest(); ok {
			metrics.ResultCacheEvictionsTotal.WithLabelValues("capacity").Inc()
		}
	}
	c.lru.Add(key, &entry[V]{
		value:        value,
		insertedAt:   now,
		expiresAt:    now.Add(c.cfg.TTL),
		lastAccessed: now,
	})
}

func (c *Cache[V]) purgeExpiredLocked(now time.Time) {
	for _, key := range c.lru.Keys() {
		e, ok := c.lru.Peek(key)
		if ok && !now.Before(e.expiresAt) {
			c.lru.Remove(key)
			metrics.ResultCacheEvictionsTotal.WithLabelValues("ttl").Inc()
		}
	}
}

func (c *Cache[V]) sweep() {
	ticker := time.NewTicker(c.cfg.TTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			now := c.cfg.Now()
			c.mu.Lock()
			c.purgeExpiredLocked(now)
			c.mu.Unlock()
		}
	}
}
