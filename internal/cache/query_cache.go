// Package cache provides the cache-aside layer for query results: a Redis
// backend when one is reachable and an in-process LRU fallback.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/snappy"
	"go.uber.org/zap"

	"github.com/arkilian/qgate/internal/config"
	qerrors "github.com/arkilian/qgate/internal/errors"
	"github.com/arkilian/qgate/internal/observability"
	"github.com/arkilian/qgate/pkg/types"
)

// Backend is a key/value store with per-key expiry.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// QueryCache maps query fingerprints to cached results. Every fault is
// absorbed: a failed read is a miss and a failed write is logged and dropped.
type QueryCache struct {
	primary  Backend // nil when running on the fallback only
	fallback *MemoryBackend

	ttl           time.Duration
	retryInterval time.Duration
	now           func() time.Time

	mu        sync.Mutex
	downUntil time.Time

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64

	logger  *zap.Logger
	metrics *observability.Metrics
}

// Options configures a QueryCache.
type Options struct {
	// TTL is the lifetime of stored results
	TTL time.Duration

	// RetryInterval is how long the primary backend is bypassed after a fault
	RetryInterval time.Duration

	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// New creates a cache over an optional primary backend and the in-process
// fallback. primary may be nil.
func New(primary Backend, fallback *MemoryBackend, opts Options) *QueryCache {
	if fallback == nil {
		fallback = NewMemoryBackend(0)
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryCache{
		primary:       primary,
		fallback:      fallback,
		ttl:           opts.TTL,
		retryInterval: opts.RetryInterval,
		now:           time.Now,
		logger:        logger.Named("cache"),
		metrics:       opts.Metrics,
	}
}

// Open builds the cache described by cfg. Redis is used when enabled and it
// answers a ping; otherwise the cache runs on the in-process backend alone.
func Open(ctx context.Context, cfg config.CacheConfig, logger *zap.Logger, metrics *observability.Metrics) *QueryCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := Options{
		TTL:           time.Duration(cfg.TTLSeconds) * time.Second,
		RetryInterval: cfg.RetryInterval,
		Logger:        logger,
		Metrics:       metrics,
	}
	fallback := NewMemoryBackend(cfg.MaxEntries)

	if !cfg.Enabled {
		logger.Info("networked cache disabled, using in-process cache")
		return New(nil, fallback, opts)
	}

	rb := NewRedisBackend(cfg.Redis)
	timeout := cfg.Redis.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := rb.Ping(pingCtx); err != nil {
		logger.Warn("redis unreachable, using in-process cache",
			zap.String("addr", cfg.Redis.Addr()), zap.Error(err))
		rb.Close()
		return New(nil, fallback, opts)
	}

	logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr()))
	return New(rb, fallback, opts)
}

// TTL returns the lifetime applied to stored results.
func (c *QueryCache) TTL() time.Duration {
	return c.ttl
}

// Get returns the raw payload stored under key.
func (c *QueryCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if b := c.activePrimary(); b != nil {
		val, ok, err := b.Get(ctx, key)
		if err == nil {
			c.metrics.CacheLookup(b.Name(), ok)
			return val, ok
		}
		c.fault(b, "get", err)
	}

	val, ok, err := c.fallback.Get(ctx, key)
	if err != nil {
		c.fault(c.fallback, "get", err)
		return nil, false
	}
	c.metrics.CacheLookup(c.fallback.Name(), ok)
	return val, ok
}

// Put stores a raw payload under key for ttl.
func (c *QueryCache) Put(ctx context.Context, key string, payload []byte, ttl time.Duration) {
	if b := c.activePrimary(); b != nil {
		err := b.Set(ctx, key, payload, ttl)
		if err == nil {
			return
		}
		c.fault(b, "set", err)
	}

	if err := c.fallback.Set(ctx, key, payload, ttl); err != nil {
		c.fault(c.fallback, "set", err)
	}
}

// Lookup returns the cached result for a query. Undecodable payloads are
// reported and treated as a miss.
func (c *QueryCache) Lookup(ctx context.Context, query string) (types.CachedResult, bool) {
	key := Fingerprint(query)
	payload, ok := c.Get(ctx, key)
	if !ok {
		c.misses.Add(1)
		return types.CachedResult{}, false
	}

	res, err := Decode(payload)
	if err != nil {
		c.errors.Add(1)
		c.misses.Add(1)
		c.logger.Warn("discarding corrupt cache entry", zap.String("key", key), zap.Error(err))
		return types.CachedResult{}, false
	}
	c.hits.Add(1)
	return res, true
}

// Store caches the result of a query for the configured TTL.
func (c *QueryCache) Store(ctx context.Context, query string, res types.CachedResult) {
	payload, err := Encode(res)
	if err != nil {
		c.errors.Add(1)
		c.logger.Warn("failed to encode cache entry", zap.Error(err))
		return
	}
	c.Put(ctx, Fingerprint(query), payload, c.ttl)
}

// activePrimary returns the primary backend unless it is absent or inside its
// retry interval.
func (c *QueryCache) activePrimary() Backend {
	if c.primary == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now().Before(c.downUntil) {
		return nil
	}
	return c.primary
}

func (c *QueryCache) fault(b Backend, op string, err error) {
	c.errors.Add(1)
	c.metrics.CacheError(b.Name(), op)

	if b == c.primary {
		c.mu.Lock()
		c.downUntil = c.now().Add(c.retryInterval)
		c.mu.Unlock()
	}
	c.logger.Warn("cache backend fault",
		zap.String("backend", b.Name()),
		zap.String("op", op),
		zap.Error(qerrors.NewCacheError(qerrors.CodeCacheUnavailable, "cache "+op+" failed", err)))
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Backend       string  `json:"backend"`
	PrimaryDown   bool    `json:"primary_down"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Errors        int64   `json:"errors"`
	HitRate       float64 `json:"hit_rate"`
	MemoryEntries int     `json:"memory_entries"`
}

// Stats returns current cache statistics.
func (c *QueryCache) Stats() Stats {
	s := Stats{
		Backend:       c.fallback.Name(),
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Errors:        c.errors.Load(),
		MemoryEntries: c.fallback.Len(),
	}
	if c.primary != nil {
		s.Backend = c.primary.Name()
		s.PrimaryDown = c.activePrimary() == nil
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Close releases backend resources.
func (c *QueryCache) Close() error {
	c.fallback.Clear()
	if c.primary != nil {
		return c.primary.Close()
	}
	return nil
}

// Encode serializes a cached result as snappy-compressed JSON.
func Encode(res types.CachedResult) ([]byte, error) {
	raw, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

// Decode parses a payload written by Encode.
func Decode(payload []byte) (types.CachedResult, error) {
	var res types.CachedResult
	raw, err := snappy.Decode(nil, payload)
	if err != nil {
		return res, qerrors.NewCacheError(qerrors.CodeCorruptEntry, "snappy decode failed", err)
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return res, qerrors.NewCacheError(qerrors.CodeCorruptEntry, "json decode failed", err)
	}
	return res, nil
}
