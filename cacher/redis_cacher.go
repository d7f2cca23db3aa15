package cacher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrWaitTimeout is returned when another process holds the fetch lock for
// longer than the configured wait.
var ErrWaitTimeout = errors.New("timeout waiting for cache")

const releaseLockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// RedisOptions tunes the lock protocol of a RedisCacher.
type RedisOptions struct {
	// LockTTL bounds how long a crashed fetcher can block others.
	LockTTL time.Duration
	// WaitTimeout bounds how long a caller waits on another fetcher.
	WaitTimeout time.Duration
}

// RedisCacher stores msgpack-encoded values in Redis so that several server
// processes share them. A SETNX lock per key lets one process fetch while
// the others poll with exponential backoff.
type RedisCacher[T any] struct {
	client redis.UniversalClient
	opts   RedisOptions
}

// NewRedisCacher creates a Redis-backed cacher. Zero options default to a
// 10s lock and a 10s wait.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	walls := NewRedisCacher[[]string](client, RedisOptions{})
func NewRedisCacher[T any](client redis.UniversalClient, opts RedisOptions) *RedisCacher[T] {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Second
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 10 * time.Second
	}

	return &RedisCacher[T]{client: client, opts: opts}
}

func (c *RedisCacher[T]) get(ctx context.Context, key string) (T, bool, error) {
	var zero T

	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var val T
	if err := msgpack.Unmarshal(raw, &val); err != nil {
		return zero, false, fmt.Errorf("decode cached %s: %w", key, err)
	}

	return val, true, nil
}

// GetOrFetch implements Cacher.
func (c *RedisCacher[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error) {
	var zero T

	if val, ok, err := c.get(ctx, key); err != nil || ok {
		return val, err
	}

	lockKey := key + ":lock"
	token := strconv.FormatInt(time.Now().UnixNano(), 10)

	acquired, err := c.client.SetNX(ctx, lockKey, token, c.opts.LockTTL).Result()
	if err != nil {
		return zero, fmt.Errorf("acquire lock %s: %w", lockKey, err)
	}
	if !acquired {
		return c.wait(ctx, key, lockKey)
	}

	defer c.client.Eval(context.Background(), releaseLockScript, []string{lockKey}, token)

	val, err := fetchFn(ctx)
	if err != nil {
		return zero, err
	}

	data, err := msgpack.Marshal(val)
	if err != nil {
		return zero, fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return zero, fmt.Errorf("redis set %s: %w", key, err)
	}

	return val, nil
}

// wait polls for the value another process is fetching.
func (c *RedisCacher[T]) wait(ctx context.Context, key, lockKey string) (T, error) {
	var zero T

	backoff := 10 * time.Millisecond
	deadline := time.Now().Add(c.opts.WaitTimeout)

	for time.Now().Before(deadline) {
		if val, ok, err := c.get(ctx, key); err != nil || ok {
			return val, err
		}

		held, err := c.client.Exists(ctx, lockKey).Result()
		if err != nil {
			return zero, fmt.Errorf("check lock %s: %w", lockKey, err)
		}
		if held == 0 {
			if val, ok, err := c.get(ctx, key); err != nil || ok {
				return val, err
			}
			return zero, fmt.Errorf("fetch of %s failed in another process", key)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 500*time.Millisecond)
	}

	return zero, ErrWaitTimeout
}

// Delete implements Cacher.
func (c *RedisCacher[T]) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}

	return nil
}

// ItemCount implements Cacher. Only keys under KeyPrefix are counted.
func (c *RedisCacher[T]) ItemCount(ctx context.Context) (int, error) {
	n := 0
	iter := c.client.Scan(ctx, 0, KeyPrefix+":*", 0).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan: %w", err)
	}

	return n, nil
}
