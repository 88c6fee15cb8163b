package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const webhookKeyPrefix = "counsel:webhook:"

// reclaimScript swaps a stale value (or a missing key) for a fresh
// reservation in one round trip.
var reclaimScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current == false or current == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
	return 1
end
return 0
`)

// RedisIdempotencyStore shares dedupe keys across instances. SET NX makes the
// reservation atomic, so two instances receiving the same delivery cannot
// both create a request.
type RedisIdempotencyStore struct {
	client *redis.Client
}

func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

func (s *RedisIdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	redisKey := webhookKeyPrefix + key
	ok, err := s.client.SetNX(ctx, redisKey, pendingMarker, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("reserve webhook key: %w", err)
	}
	if ok {
		return "", true, nil
	}

	existing, err := s.client.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		ok, err = s.client.SetNX(ctx, redisKey, pendingMarker, ttl).Result()
		if err != nil {
			return "", false, fmt.Errorf("reserve webhook key: %w", err)
		}
		return "", ok, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read webhook key: %w", err)
	}
	return existing, false, nil
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, key, requestID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, webhookKeyPrefix+key, requestID, ttl).Err(); err != nil {
		return fmt.Errorf("complete webhook key: %w", err)
	}
	return nil
}

func (s *RedisIdempotencyStore) Reclaim(ctx context.Context, key, stale string, ttl time.Duration) (bool, error) {
	n, err := reclaimScript.Run(ctx, s.client, []string{webhookKeyPrefix + key},
		stale, pendingMarker, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("reclaim webhook key: %w", err)
	}
	return n == 1, nil
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, webhookKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release webhook key: %w", err)
	}
	return nil
}
