package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "url:"

// RedisCache implements Cache on Redis. The freshness window doubles as the
// key TTL, so stale entries age out without an eviction pass.
type RedisCache struct {
	client    *redis.Client
	freshness time.Duration
}

// NewRedisCache creates a RedisCache around an existing client.
func NewRedisCache(client *redis.Client, freshness time.Duration) *RedisCache {
	return &RedisCache{client: client, freshness: freshness}
}

func (c *RedisCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// Corrupt entry: drop it and treat as a miss.
		_ = c.client.Del(ctx, redisKeyPrefix+key).Err()
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisKeyPrefix+key, raw, c.freshness).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, redisKeyPrefix+key).Err()
}
