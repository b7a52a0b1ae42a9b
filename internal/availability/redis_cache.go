package availability

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hartleylabs/frontdesk/pkg/logging"
)

const redisKeyPrefix = "frontdesk:slots:"

// RedisCache is the SlotCache for multi-process deployments. Redis
// errors are non-fatal: a failed read is a miss and a failed write is
// dropped, so a cache outage only costs extra scheduler calls.
type RedisCache struct {
	rdb    *redis.Client
	logger *logging.Logger
}

// NewRedisCache creates a Redis-backed slot cache.
func NewRedisCache(rdb *redis.Client, logger *logging.Logger) *RedisCache {
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisCache{rdb: rdb, logger: logger}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]Slot, bool) {
	data, err := c.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("slot cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	var slots []Slot
	if err := json.Unmarshal(data, &slots); err != nil {
		c.logger.Warn("slot cache entry corrupt; evicting", "key", key, "error", err)
		c.rdb.Del(ctx, redisKeyPrefix+key)
		return nil, false
	}
	return slots, true
}

func (c *RedisCache) Set(ctx context.Context, key string, slots []Slot, ttl time.Duration) {
	data, err := json.Marshal(slots)
	if err != nil {
		c.logger.Warn("slot cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, redisKeyPrefix+key, data, ttl).Err(); err != nil {
		c.logger.Warn("slot cache write failed", "key", key, "error", err)
	}
}

func (c *RedisCache) Evict(ctx context.Context, key string) {
	if err := c.rdb.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		c.logger.Warn("slot cache evict failed", "key", key, "error", err)
	}
}
