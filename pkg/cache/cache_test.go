// SPDX-FileCopyrightText: Copyright 2026 IDForge Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCacheWithClient(client)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

// testCache runs the shared contract checks against any Cache.
func testCache(t *testing.T, c Cache) {
	t.Helper()
	ctx := context.Background()

	t.Run("miss on absent key", func(t *testing.T) {
		_, err := c.Get(ctx, "absent")
		assert.ErrorIs(t, err, ErrCacheMiss)
	})

	t.Run("set then get", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "k1", []byte(`{"active":true}`), time.Minute))

		val, err := c.Get(ctx, "k1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"active":true}`, string(val))
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "k2", []byte("v"), time.Minute))
		require.NoError(t, c.Delete(ctx, "k2"))

		_, err := c.Get(ctx, "k2")
		assert.ErrorIs(t, err, ErrCacheMiss)

		// Deleting an absent key is fine.
		require.NoError(t, c.Delete(ctx, "k2"))
	})

	t.Run("non-positive ttl is a no-op", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "k3", []byte("v"), 0))

		_, err := c.Get(ctx, "k3")
		assert.ErrorIs(t, err, ErrCacheMiss)
	})
}

func TestRedisCache(t *testing.T) {
	t.Parallel()

	c, _ := newRedisCache(t)
	testCache(t, c)
}

func TestRedisCacheExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, mr := newRedisCache(t)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	// miniredis only advances TTLs when told to.
	mr.FastForward(2 * time.Minute)

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache(t *testing.T) {
	t.Parallel()

	c := NewMemoryCache()
	t.Cleanup(func() { _ = c.Close() })
	testCache(t, c)
}

func TestMemoryCacheExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewMemoryCache()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCacheCopySemantics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewMemoryCache()

	val := []byte("original")
	require.NoError(t, c.Set(ctx, "k", val, time.Minute))
	val[0] = 'X'

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))

	got[0] = 'Y'
	again, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "original", string(again))
}
