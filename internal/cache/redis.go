// Package cache provides a tiny Redis client wrapper for liveness verdicts
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SyedDaiam9101/liveness-service/internal/liveness"
)

const keyPrefix = "liveness:verdict:"

// Cache wraps a Redis client for verdict storage
type Cache struct {
	client redis.Cmdable
	closer func() error
}

// New creates a new Cache instance connected to the specified Redis address
// If addr is empty, defaults to localhost:6379
func New(ctx context.Context, addr string) (*Cache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	return &Cache{client: client, closer: client.Close}, nil
}

// NewWithClient wraps an existing client. The caller keeps ownership of it.
func NewWithClient(client redis.Cmdable) *Cache {
	return &Cache{client: client}
}

// Key derives the cache key for an image payload, the crop applied to it and
// the threshold it is judged against.
func Key(payload []byte, crop string, threshold float32) string {
	h := sha256.New()
	h.Write(payload)
	fmt.Fprintf(h, "|%s|%g", crop, threshold)
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// GetVerdict retrieves a cached verdict. The bool is false on a miss.
func (c *Cache) GetVerdict(ctx context.Context, key string) (*liveness.Verdict, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, fmt.Errorf("cache client is nil")
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get verdict %s: %w", key, err)
	}

	var v liveness.Verdict
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, false, fmt.Errorf("failed to decode verdict %s: %w", key, err)
	}
	return &v, true, nil
}

// SetVerdict stores a verdict with the specified TTL
func (c *Cache) SetVerdict(ctx context.Context, key string, v liveness.Verdict, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache client is nil")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode verdict: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set verdict %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis connection if this Cache opened it
func (c *Cache) Close() error {
	if c != nil && c.closer != nil {
		return c.closer()
	}
	return nil
}
