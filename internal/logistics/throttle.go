package logistics

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Throttle limits how often one order's tracking is fetched from the provider.
type Throttle interface {
	Allow(ctx context.Context, orderID string) (bool, error)
	// Release gives the slot back so the next request may fetch again.
	Release(ctx context.Context, orderID string) error
}

type RedisThrottle struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisThrottle(rdb *redis.Client, ttl time.Duration) *RedisThrottle {
	return &RedisThrottle{rdb: rdb, ttl: ttl}
}

func throttleKey(orderID string) string {
	return "logistics:fetch:" + orderID
}

// Allow claims the fetch slot for the order until the TTL elapses.
func (t *RedisThrottle) Allow(ctx context.Context, orderID string) (bool, error) {
	return t.rdb.SetNX(ctx, throttleKey(orderID), time.Now().UTC().Format(time.RFC3339), t.ttl).Result()
}

func (t *RedisThrottle) Release(ctx context.Context, orderID string) error {
	return t.rdb.Del(ctx, throttleKey(orderID)).Err()
}

type NoopThrottle struct{}

func (NoopThrottle) Allow(context.Context, string) (bool, error) { return true, nil }

func (NoopThrottle) Release(context.Context, string) error { return nil }
