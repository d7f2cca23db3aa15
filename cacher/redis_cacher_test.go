package cacher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisCacher_Defaults(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { _ = client.Close() })

	c := NewRedisCacher[string](client, RedisOptions{})
	assert.Equal(t, 10*time.Second, c.opts.LockTTL)
	assert.Equal(t, 10*time.Second, c.opts.WaitTimeout)
}

func TestRedisCacher_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	c := NewRedisCacher[string](client, RedisOptions{})
	fetched := false

	_, err := c.GetOrFetch(context.Background(), Key("walls"), 0, func(context.Context) (string, error) {
		fetched = true
		return wallsLine, nil
	})
	require.Error(t, err)
	assert.False(t, fetched, "fetch must not run when the cache cannot be consulted")

	_, err = c.ItemCount(context.Background())
	assert.Error(t, err)
}

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr:            mr.Addr(),
		Protocol:        2,
		DisableIdentity: true,
	})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

func TestRedisCacher_GetOrFetch(t *testing.T) {
	ctx := context.Background()
	lines := []string{"a\n", "b\n"}

	t.Run("miss then hit fetches once", func(t *testing.T) {
		mr, client := newMiniRedis(t)
		c := NewRedisCacher[[]string](client, RedisOptions{})
		key := Key("walls", "layout")

		fetches := 0
		fetch := func(context.Context) ([]string, error) {
			fetches++
			return lines, nil
		}

		for i := 0; i < 3; i++ {
			val, err := c.GetOrFetch(ctx, key, time.Minute, fetch)
			require.NoError(t, err)
			assert.Equal(t, lines, val)
		}
		assert.Equal(t, 1, fetches)

		assert.False(t, mr.Exists(key+":lock"), "lock released after the fetch")
		assert.Equal(t, time.Minute, mr.TTL(key))

		n, err := c.ItemCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("values are stored as msgpack", func(t *testing.T) {
		mr, client := newMiniRedis(t)
		c := NewRedisCacher[[]string](client, RedisOptions{})
		key := Key("walls", "encoded")

		_, err := c.GetOrFetch(ctx, key, 0, func(context.Context) ([]string, error) { return lines, nil })
		require.NoError(t, err)

		raw, err := mr.Get(key)
		require.NoError(t, err)

		var decoded []string
		require.NoError(t, msgpack.Unmarshal([]byte(raw), &decoded))
		assert.Equal(t, lines, decoded)
		assert.Zero(t, mr.TTL(key), "zero ttl never expires")
	})

	t.Run("fetch error caches nothing and releases the lock", func(t *testing.T) {
		mr, client := newMiniRedis(t)
		c := NewRedisCacher[[]string](client, RedisOptions{})
		key := Key("walls", "broken")
		boom := errors.New("boom")

		_, err := c.GetOrFetch(ctx, key, 0, func(context.Context) ([]string, error) { return nil, boom })
		require.ErrorIs(t, err, boom)
		assert.False(t, mr.Exists(key))
		assert.False(t, mr.Exists(key+":lock"))

		val, err := c.GetOrFetch(ctx, key, 0, func(context.Context) ([]string, error) { return lines, nil })
		require.NoError(t, err)
		assert.Equal(t, lines, val)
	})

	t.Run("foreign lock is left alone", func(t *testing.T) {
		mr, client := newMiniRedis(t)
		c := NewRedisCacher[[]string](client, RedisOptions{})
		key := Key("walls", "shared")

		_, err := c.GetOrFetch(ctx, key, 0, func(context.Context) ([]string, error) {
			// Another process took over after our lock expired.
			require.NoError(t, mr.Set(key+":lock", "someone-else"))
			return lines, nil
		})
		require.NoError(t, err)

		owner, err := mr.Get(key + ":lock")
		require.NoError(t, err)
		assert.Equal(t, "someone-else", owner)
	})
}

func TestRedisCacher_Wait(t *testing.T) {
	ctx := context.Background()
	lines := []string{"a\n", "b\n"}
	noFetch := func(t *testing.T) FetchFunc[[]string] {
		return func(context.Context) ([]string, error) {
			t.Error("fetch must not run while another process holds the lock")
			return nil, nil
		}
	}

	t.Run("value published by the lock holder", func(t *testing.T) {
		mr, client := newMiniRedis(t)
		c := NewRedisCacher[[]string](client, RedisOptions{WaitTimeout: 2 * time.Second})
		key := Key("walls", "waiting")
		require.NoError(t, mr.Set(key+":lock", "holder"))

		data, err := msgpack.Marshal(lines)
		require.NoError(t, err)
		go func() {
			time.Sleep(30 * time.Millisecond)
			_ = mr.Set(key, string(data))
			mr.Del(key + ":lock")
		}()

		val, err := c.GetOrFetch(ctx, key, 0, noFetch(t))
		require.NoError(t, err)
		assert.Equal(t, lines, val)
	})

	t.Run("lock released without a value", func(t *testing.T) {
		mr, client := newMiniRedis(t)
		c := NewRedisCacher[[]string](client, RedisOptions{WaitTimeout: 2 * time.Second})
		key := Key("walls", "abandoned")
		require.NoError(t, mr.Set(key+":lock", "holder"))

		go func() {
			time.Sleep(30 * time.Millisecond)
			mr.Del(key + ":lock")
		}()

		_, err := c.GetOrFetch(ctx, key, 0, noFetch(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed in another process")
	})

	t.Run("lock held past the wait timeout", func(t *testing.T) {
		mr, client := newMiniRedis(t)
		c := NewRedisCacher[[]string](client, RedisOptions{WaitTimeout: 100 * time.Millisecond})
		key := Key("walls", "stuck")
		require.NoError(t, mr.Set(key+":lock", "holder"))

		start := time.Now()
		_, err := c.GetOrFetch(ctx, key, 0, noFetch(t))
		assert.ErrorIs(t, err, ErrWaitTimeout)
		assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("context cancellation stops the wait", func(t *testing.T) {
		mr, client := newMiniRedis(t)
		c := NewRedisCacher[[]string](client, RedisOptions{WaitTimeout: 5 * time.Second})
		key := Key("walls", "cancelled")
		require.NoError(t, mr.Set(key+":lock", "holder"))

		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()

		_, err := c.GetOrFetch(cctx, key, 0, noFetch(t))
		assert.Error(t, err)
	})
}

func TestRedisCacher_Delete(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniRedis(t)
	c := NewRedisCacher[[]string](client, RedisOptions{})
	key := Key("walls", "gone")

	_, err := c.GetOrFetch(ctx, key, 0, func(context.Context) ([]string, error) { return []string{"a\n"}, nil })
	require.NoError(t, err)
	require.True(t, mr.Exists(key))

	require.NoError(t, c.Delete(ctx, key))
	assert.False(t, mr.Exists(key))

	require.NoError(t, mr.Set("unrelated", "x"))
	n, err := c.ItemCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "keys outside the prefix are not counted")
}
