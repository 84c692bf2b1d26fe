package common

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lgulliver/upturn/pkg/config"
	"github.com/lgulliver/upturn/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDatabase_SQLite(t *testing.T) {
	db, err := NewDatabase(&config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate())
	assert.True(t, db.Migrator().HasTable(&types.DownloadRecord{}))
}

func TestNewDatabase_UnsupportedDriver(t *testing.T) {
	_, err := NewDatabase(&config.DatabaseConfig{Driver: "oracle"})
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestCache(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	cache, err := NewCache(&config.RedisConfig{Host: mr.Host(), Port: port, TTL: time.Minute})
	require.NoError(t, err)
	defer cache.Close()
	ctx := context.Background()

	assert.Equal(t, time.Minute, cache.TTL())

	type entry struct {
		Name string `json:"name"`
	}
	require.NoError(t, cache.Set(ctx, "k", entry{Name: "blob"}, time.Minute))

	var got entry
	require.NoError(t, cache.Get(ctx, "k", &got))
	assert.Equal(t, "blob", got.Name)

	exists, err := cache.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, cache.Delete(ctx, "k"))
	assert.ErrorIs(t, cache.Get(ctx, "k", &got), ErrCacheMiss)

	require.NoError(t, cache.Set(ctx, "short", entry{}, time.Second))
	mr.FastForward(2 * time.Second)
	assert.ErrorIs(t, cache.Get(ctx, "short", &got), ErrCacheMiss)
}

func TestNewCache_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	host := mr.Host()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	mr.Close()

	_, err = NewCache(&config.RedisConfig{Host: host, Port: port})
	assert.ErrorContains(t, err, "failed to connect to Redis")
}
