package storage

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"
)

// Redis stores each slot as a plain Redis string.
type Redis struct {
	C *redis.Client
}

// NewRedis connects to the Redis server at addr.
func NewRedis(addr string) *Redis {
	return &Redis{C: redis.NewClient(&redis.Options{Addr: addr})}
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(c *redis.Client) *Redis {
	return &Redis{C: c}
}

func (r *Redis) Ping(ctx context.Context) error { return r.C.Ping(ctx).Err() }
func (r *Redis) Close() error                   { return r.C.Close() }

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.C.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	return r.C.Set(ctx, key, value, 0).Err()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.C.Del(ctx, key).Err()
}
