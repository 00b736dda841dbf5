package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores computed leaderboards. Invalidate must drop every entry
// before it returns.
//
// Get also returns the generation it looked under. Set writes under the
// generation passed in, so rows computed from a read that raced with an
// Invalidate land in a generation nobody reads any more.
type Cache interface {
	Get(ctx context.Context, key string) (rows []TraderSummary, gen int64, ok bool, err error)
	Set(ctx context.Context, gen int64, key string, rows []TraderSummary) error
	Invalidate(ctx context.Context) error
}

type NopCache struct{}

func (NopCache) Get(context.Context, string) ([]TraderSummary, int64, bool, error) {
	return nil, 0, false, nil
}
func (NopCache) Set(context.Context, int64, string, []TraderSummary) error { return nil }
func (NopCache) Invalidate(context.Context) error                          { return nil }

const (
	redisKeyPrefix     = "trader-chat:leaderboard"
	redisGenerationKey = redisKeyPrefix + ":gen"
	DefaultCacheTTL    = 5 * time.Minute
)

type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
}

// RedisCache namespaces entries under a generation counter. Invalidate bumps
// the counter so older entries are never read again and expire by TTL.
type RedisCache struct {
	client redisClient
	ttl    time.Duration
}

func NewRedisCache(client redisClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) generation(ctx context.Context) (int64, error) {
	raw, err := c.client.Get(ctx, redisGenerationKey).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

func entryKey(gen int64, key string) string {
	return fmt.Sprintf("%s:%d:%s", redisKeyPrefix, gen, key)
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]TraderSummary, int64, bool, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		return nil, 0, false, fmt.Errorf("read cache generation: %w", err)
	}

	raw, err := c.client.Get(ctx, entryKey(gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gen, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}

	var rows []TraderSummary
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, 0, false, fmt.Errorf("decode cached leaderboard: %w", err)
	}
	return rows, gen, true, nil
}

func (c *RedisCache) Set(ctx context.Context, gen int64, key string, rows []TraderSummary) error {
	raw, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode leaderboard: %w", err)
	}
	return c.client.Set(ctx, entryKey(gen, key), raw, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, redisGenerationKey).Err()
}
