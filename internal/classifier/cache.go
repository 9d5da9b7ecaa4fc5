package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrCacheMiss is returned by Cache.Get when no result is stored under a key.
var ErrCacheMiss = errors.New("classification not cached")

// Cache stores JSON-encoded classifications. Implementations return
// ErrCacheMiss for absent keys; any other error is a backend failure.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// DefaultKeyPrefix namespaces every key the service writes to Redis.
const DefaultKeyPrefix = "imagenet:"

// RedisCache keeps results in Redis under a fixed key prefix.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache wraps client. An empty prefix uses DefaultKeyPrefix.
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return value, err
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.prefix+key, value, ttl).Err()
}

// IsMiss reports whether err is a plain cache miss.
func IsMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// hashKey addresses a result by image digest. The model id is part of the key
// because the same bytes classify differently under another model.
func (uc *Classifier) hashKey(hash string) string {
	return fmt.Sprintf("classification:%s:sha256:%s", uc.modelID, hash)
}

func requestKey(requestID string) string {
	return "classification:request:" + requestID
}
