package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingMarker = "pending"

// RedisDeduper stores idempotency keys in Redis so all instances
// agree on which creates already happened.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(userID, key string) string {
	return fmt.Sprintf("idem:%s:%s", userID, key)
}

func (r *RedisDeduper) Reserve(ctx context.Context, userID, key string) (string, bool, error) {
	k := r.key(userID, key)
	ok, err := r.client.SetNX(ctx, k, pendingMarker, r.ttl).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}
	existing, err := r.client.Get(ctx, k).Result()
	if err == redis.Nil {
		// Expired between SETNX and GET; try once more.
		ok, err = r.client.SetNX(ctx, k, pendingMarker, r.ttl).Result()
		return "", ok, err
	}
	if err != nil {
		return "", false, err
	}
	if existing == pendingMarker {
		return "", false, nil
	}
	return existing, false, nil
}

func (r *RedisDeduper) Complete(ctx context.Context, userID, key, taskID string) error {
	return r.client.Set(ctx, r.key(userID, key), taskID, r.ttl).Err()
}

// Release deletes a reservation. It is used when the create fails so the
// caller may retry with the same key.
func (r *RedisDeduper) Release(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, r.key(userID, key)).Err()
}
