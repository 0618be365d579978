package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/arkilian/qgate/internal/config"
)

// RedisBackend stores entries in Redis with SET EX; expiry is enforced by the
// server.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend creates a client for the configured endpoint. No connection
// is made until the first command or Ping.
func NewRedisBackend(cfg config.RedisConfig) *RedisBackend {
	opts := &redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.Timeout > 0 {
		opts.DialTimeout = cfg.Timeout
		opts.ReadTimeout = cfg.Timeout
		opts.WriteTimeout = cfg.Timeout
	}
	return NewRedisBackendFromClient(redis.NewClient(opts))
}

// NewRedisBackendFromClient wraps an existing client.
func NewRedisBackendFromClient(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// Name implements Backend.
func (r *RedisBackend) Name() string { return "redis" }

// Ping checks that the server is reachable.
func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Get implements Backend. A missing key is a miss, not an error.
func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set implements Backend.
func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return r.client.Del(ctx, key).Err()
	}
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Close releases the client's connections.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}
