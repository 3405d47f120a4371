package main

import (
	"context"
	"testing"
	"time"

	"dosu/internal/cache"
	"dosu/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitCache(t *testing.T) {
	logger := zerolog.Nop()
	ctx := context.Background()

	t.Run("MemoryOnly", func(t *testing.T) {
		c, closeCache := initCache(ctx, &config.Config{}, &logger)
		defer closeCache()
		assert.IsType(t, &cache.MemoryCache{}, c)
	})

	t.Run("RedisReachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := &config.Config{Redis: config.RedisConfig{Address: mr.Addr()}}

		c, closeCache := initCache(ctx, cfg, &logger)
		defer closeCache()
		require.IsType(t, &cache.FailoverCache{}, c)

		require.NoError(t, c.Set(ctx, "day:2024-03-04", []byte("{}"), time.Minute))
		got, err := c.Get(ctx, "day:2024-03-04")
		require.NoError(t, err)
		assert.Equal(t, []byte("{}"), got)
		assert.NotEmpty(t, mr.Keys(), "value written through to redis")
	})

	t.Run("RedisUnreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		cfg := &config.Config{Redis: config.RedisConfig{Address: addr}}
		c, closeCache := initCache(ctx, cfg, &logger)
		defer closeCache()
		require.IsType(t, &cache.FailoverCache{}, c)

		require.NoError(t, c.Set(ctx, "month:2024-03", []byte("[]"), time.Minute))
		got, err := c.Get(ctx, "month:2024-03")
		require.NoError(t, err)
		assert.Equal(t, []byte("[]"), got)
	})
}
