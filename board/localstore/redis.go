package localstore

import (
	"context"
	"errors"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// Redis stores documents as JSON strings under prefix+key. Entries never expire.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Load(ctx context.Context, key string, v any) error {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return storageErr("get", key, err)
	}
	if err := sonic.ConfigStd.Unmarshal(data, v); err != nil {
		return storageErr("decode", key, err)
	}
	return nil
}

func (r *Redis) Save(ctx context.Context, key string, v any) error {
	data, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		return storageErr("encode", key, err)
	}
	if err := r.client.Set(ctx, r.prefix+key, data, 0).Err(); err != nil {
		return storageErr("set", key, err)
	}
	return nil
}
