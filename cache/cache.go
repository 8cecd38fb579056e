// Package cache deduplicates and memoizes fetch results by semantic key.
// Concurrent callers for one key share a single in-flight producer
// execution; expired entries are treated as absent and trigger exactly one
// refresh.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"birdgate/metrics"
	"birdgate/pkg/model"
)

// producerTimeout bounds a producer run independently of any one caller's
// deadline, since the producer may outlive the caller that started it.
const producerTimeout = 45 * time.Second

type entry[V any] struct {
	expiresAt time.Time
	err       error
	value     V
}

// Options configures a Cache.
type Options struct {
	Store         *Store // optional persistent tier; may be nil
	Logger        *slog.Logger
	NegativeTTL   time.Duration // TTL for confirmed not-found results
	PersistTTLMin time.Duration // entries with at least this TTL also hit the persistent tier
}

// Cache is an in-memory single-flight TTL cache for values of type V.
type Cache[V any] struct {
	logger  *slog.Logger
	store   *Store
	now     func() time.Time
	entries map[string]entry[V]
	group   singleflight.Group
	negTTL  time.Duration
	persist time.Duration
	mu      sync.Mutex
}

// New creates a cache. A nil Options.Store disables the persistent tier.
func New[V any](opts Options) *Cache[V] {
	if opts.NegativeTTL <= 0 {
		opts.NegativeTTL = 30 * time.Second
	}
	return &Cache[V]{
		logger:  opts.Logger,
		store:   opts.Store,
		now:     time.Now,
		entries: make(map[string]entry[V]),
		negTTL:  opts.NegativeTTL,
		persist: opts.PersistTTLMin,
	}
}

// GetOrFetch returns the cached value for key, running producer on a miss.
// At most one producer executes per key at any moment; concurrent callers
// block on the shared result. Cancelling ctx abandons only this caller's
// wait; a producer still needed by other waiters keeps running on a
// detached context. The producer may return a positive TTL to override
// defaultTTL, e.g. for values known to be immutable only after fetching.
func (c *Cache[V]) GetOrFetch(ctx context.Context, key string, defaultTTL time.Duration, producer func(context.Context) (V, time.Duration, error)) (V, error) {
	if v, err, ok := c.lookup(key); ok {
		return v, err
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	ch := c.group.DoChan(key, func() (any, error) {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), producerTimeout)
		defer cancel()

		v, ttl, err := producer(pctx)
		if ttl <= 0 {
			ttl = defaultTTL
		}
		switch {
		case err == nil:
			c.put(key, v, nil, ttl)
			c.persistPut(pctx, key, v, ttl)
		case model.IsNotFound(err):
			// Brief negative entry so a dead ID cannot hammer upstream.
			var zero V
			c.put(key, zero, err, c.negTTL)
		}
		return v, err
	})

	select {
	case res := <-ch:
		if res.Shared {
			metrics.CacheLookups.WithLabelValues("shared").Inc()
		}
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		v, ok := res.Val.(V)
		if !ok {
			var zero V
			return zero, &model.ParseError{Err: errWrongType}
		}
		return v, nil
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

func (c *Cache[V]) lookup(key string) (V, error, bool) {
	now := c.now()

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && now.After(e.expiresAt) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()

	if ok {
		if e.err != nil {
			metrics.CacheLookups.WithLabelValues("negative").Inc()
			var zero V
			return zero, e.err, true
		}
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return e.value, nil, true
	}

	// Cold path: the persistent tier, if configured.
	if c.store != nil {
		if data, found := c.store.Get(context.Background(), key, now); found {
			var v V
			if err := json.Unmarshal(data, &v); err == nil {
				metrics.CacheLookups.WithLabelValues("hit").Inc()
				return v, nil, true
			}
			c.logger.Warn("Discarding undecodable persisted cache entry", "key", key)
		}
	}

	var zero V
	return zero, nil, false
}

func (c *Cache[V]) put(key string, v V, err error, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: v, err: err, expiresAt: c.now().Add(ttl)}
}

func (c *Cache[V]) persistPut(ctx context.Context, key string, v V, ttl time.Duration) {
	if c.store == nil || c.persist <= 0 || ttl < c.persist {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.store.Put(ctx, key, data, c.now().Add(ttl)); err != nil {
		c.logger.Warn("Failed to persist cache entry", "key", key, "error", err)
	}
}

// Sweep evicts expired in-memory entries every interval until ctx is done.
func (c *Cache[V]) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := c.now()
			c.mu.Lock()
			for k, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Len reports the number of live in-memory entries, for health reporting.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
