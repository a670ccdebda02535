package adapter

import (
	"context"
	stdErrors "errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	warperrors "github.com/mirkobrombin/warp-resolver/v1/errors"
)

const defaultRedisOpTimeout = 5 * time.Second

// RedisStore implements Store using a Redis backend.
//
// By default every key is a plain Redis string key. With WithHashKey all
// entries live as fields of a single Redis hash, which keeps the whole cache
// of one application under one Redis key.
type RedisStore[T any] struct {
	client  redis.UniversalClient
	timeout time.Duration
	codec   Codec
	hashKey string
}

// RedisOption configures a RedisStore.
type RedisOption func(*redisStoreOptions)

type redisStoreOptions struct {
	timeout time.Duration
	codec   Codec
	hashKey string
}

// WithTimeout sets the operation timeout for Redis calls.
func WithTimeout(d time.Duration) RedisOption {
	return func(o *redisStoreOptions) {
		o.timeout = d
	}
}

// WithCodec sets the value codec. JSONCodec is used by default.
func WithCodec(c Codec) RedisOption {
	return func(o *redisStoreOptions) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithHashKey stores entries as fields of the Redis hash named key.
func WithHashKey(key string) RedisOption {
	return func(o *redisStoreOptions) {
		o.hashKey = key
	}
}

// NewRedisStore returns a new RedisStore using the provided Redis client.
func NewRedisStore[T any](client redis.UniversalClient, opts ...RedisOption) *RedisStore[T] {
	o := redisStoreOptions{timeout: defaultRedisOpTimeout, codec: JSONCodec{}}
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisStore[T]{client: client, timeout: o.timeout, codec: o.codec, hashKey: o.hashKey}
}

// Get implements Store.Get.
func (s *RedisStore[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, mapRedisErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var cmd *redis.StringCmd
	if s.hashKey != "" {
		cmd = s.client.HGet(cctx, s.hashKey, key)
	} else {
		cmd = s.client.Get(cctx, key)
	}
	data, err := cmd.Bytes()
	if err == redis.Nil {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, mapRedisErr(err)
	}
	var v T
	if err := s.codec.Unmarshal(data, &v); err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Set implements Store.Set. Entries never expire.
func (s *RedisStore[T]) Set(ctx context.Context, key string, value T) error {
	if err := ctx.Err(); err != nil {
		return mapRedisErr(err)
	}
	data, err := s.codec.Marshal(value)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if s.hashKey != "" {
		err = s.client.HSet(cctx, s.hashKey, key, data).Err()
	} else {
		err = s.client.Set(cctx, key, data, 0).Err()
	}
	return mapRedisErr(err)
}

// Keys implements Keyer. Plain keys are listed with SCAN, so on a shared
// database the result includes keys written by other clients.
func (s *RedisStore[T]) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, mapRedisErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if s.hashKey != "" {
		keys, err := s.client.HKeys(cctx, s.hashKey).Result()
		if err != nil {
			return nil, mapRedisErr(err)
		}
		return keys, nil
	}
	var cursor uint64
	var keys []string
	for {
		batch, next, err := s.client.Scan(cctx, cursor, "*", 100).Result()
		if err != nil {
			return nil, mapRedisErr(err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			break
		}
		cursor = next
	}
	return keys, nil
}

func mapRedisErr(err error) error {
	switch {
	case err == nil:
		return nil
	case stdErrors.Is(err, context.DeadlineExceeded):
		return warperrors.ErrTimeout
	case stdErrors.Is(err, redis.ErrClosed):
		return warperrors.ErrConnectionClosed
	}
	return err
}
