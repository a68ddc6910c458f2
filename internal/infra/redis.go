// README: Redis client initialisation and the TTL-bounded response cache behind Idempotency-Key replay.
package infra

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const responseCachePrefix = "drop:idem:"

func NewRedis(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

// ResponseCache stores serialized responses under caller-scoped keys. Entries expire after ttl.
type ResponseCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewResponseCache(client *redis.Client, ttl time.Duration) *ResponseCache {
	return &ResponseCache{redis: client, ttl: ttl}
}

func (c *ResponseCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.redis.Get(ctx, responseCachePrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Put keeps the first response written for key; later writes for the same key are dropped.
func (c *ResponseCache) Put(ctx context.Context, key string, val []byte) error {
	return c.redis.SetNX(ctx, responseCachePrefix+key, val, c.ttl).Err()
}
