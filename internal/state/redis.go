package state

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// RedisState stores state keys in Redis under a common prefix.
type RedisState struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedis returns a Redis-backed State. prefix namespaces every key.
func NewRedis(rdb redis.UniversalClient, prefix string) *RedisState {
	return &RedisState{rdb: rdb, prefix: prefix}
}

func (r *RedisState) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *RedisState) Load(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.rdb.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "state: redis get %s", key)
	}
	return v, true, nil
}

func (r *RedisState) Save(ctx context.Context, key string, value []byte) error {
	if err := r.rdb.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return eris.Wrapf(err, "state: redis set %s", key)
	}
	return nil
}

func (r *RedisState) SaveIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, r.key(key), value, 0).Result()
	if err != nil {
		return false, eris.Wrapf(err, "state: redis setnx %s", key)
	}
	return ok, nil
}

func (r *RedisState) Remove(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.key(key)).Err(); err != nil {
		return eris.Wrapf(err, "state: redis del %s", key)
	}
	return nil
}
