// Package cache caches alarm configuration lookups in Redis or in process.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "hamon:cache:"

// Backend stores raw cache entries. Get returns nil on a miss.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// Cache adds JSON helpers over a backend.
type Cache struct {
	backend Backend
	logger  *slog.Logger
}

// New creates a cache over backend.
func New(backend Backend, logger *slog.Logger) *Cache {
	return &Cache{backend: backend, logger: logger.With("component", "cache")}
}

// GetJSON retrieves and unmarshals a cached JSON value.
func (c *Cache) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON marshals and stores a JSON value.
func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.backend.Set(ctx, key, data, ttl)
}

// Delete removes a key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.backend.Delete(ctx, key)
}

// DeletePrefix removes every key starting with prefix.
func (c *Cache) DeletePrefix(ctx context.Context, prefix string) error {
	return c.backend.DeletePrefix(ctx, prefix)
}

// =============================================================================
// REDIS
// =============================================================================

// RedisBackend stores entries in Redis.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to redisURL and verifies the connection.
func NewRedisBackend(redisURL string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisBackend{client: client}, nil
}

// NewRedisBackendFromClient wraps an existing client.
func NewRedisBackendFromClient(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return data, err
}

func (b *RedisBackend) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return b.client.Set(ctx, keyPrefix+key, data, ttl).Err()
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, keyPrefix+key).Err()
}

// DeletePrefix removes matching keys found with SCAN.
func (b *RedisBackend) DeletePrefix(ctx context.Context, prefix string) error {
	iter := b.client.Scan(ctx, 0, keyPrefix+prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return b.client.Del(ctx, keys...).Err()
	}
	return nil
}

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

// =============================================================================
// IN PROCESS
// =============================================================================

// MemoryBackend stores entries in process with go-cache.
type MemoryBackend struct {
	c *gocache.Cache
}

// NewMemoryBackend creates an in-process backend.
func NewMemoryBackend(defaultTTL, cleanupInterval time.Duration) *MemoryBackend {
	return &MemoryBackend{c: gocache.New(defaultTTL, cleanupInterval)}
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := b.c.Get(key)
	if !ok {
		return nil, nil
	}
	return v.([]byte), nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, data []byte, ttl time.Duration) error {
	b.c.Set(key, append([]byte(nil), data...), ttl)
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.c.Delete(key)
	return nil
}

func (b *MemoryBackend) DeletePrefix(_ context.Context, prefix string) error {
	for key := range b.c.Items() {
		if strings.HasPrefix(key, prefix) {
			b.c.Delete(key)
		}
	}
	return nil
}
