/**
 * @description
 * Redis-backed cache for exchange rates so every instance shares what one fetched.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: Redis client.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRateRetention = 7 * 24 * time.Hour

// RedisRateCache shares fetched exchange rates between instances. Keys are kept for
// the retention period, well past the freshness TTL, so stale rates stay available.
type RedisRateCache struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

func NewRedisRateCache(client redis.UniversalClient, prefix string, retention time.Duration) *RedisRateCache {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "wallet"
	}
	if retention <= 0 {
		retention = defaultRateRetention
	}
	return &RedisRateCache{client: client, prefix: trimmedPrefix + ":fx", retention: retention}
}

func (c *RedisRateCache) key(pair string) string {
	return c.prefix + ":" + pair
}

func (c *RedisRateCache) Get(ctx context.Context, key string) (RateEntry, bool, error) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return RateEntry{}, false, nil
	}
	if err != nil {
		return RateEntry{}, false, err
	}
	var entry RateEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return RateEntry{}, false, err
	}
	return entry, true, nil
}

func (c *RedisRateCache) Set(ctx context.Context, key string, entry RateEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(key), raw, c.retention).Err()
}
