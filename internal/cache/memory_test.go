package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheGetSetDelete(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(10, 0)
	defer mc.Close()

	_, found, err := mc.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	value := []byte("v1")
	require.NoError(t, mc.Set(ctx, "k", value, 0))
	value[0] = 'x'

	got, found, err := mc.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v1"), got, "stored value is a copy")

	require.NoError(t, mc.Delete(ctx, "k"))
	_, found, _ = mc.Get(ctx, "k")
	assert.False(t, found)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(10, 0)
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "short", []byte("a"), time.Millisecond))
	require.NoError(t, mc.Set(ctx, "forever", []byte("b"), 0))
	time.Sleep(5 * time.Millisecond)

	_, found, _ := mc.Get(ctx, "short")
	assert.False(t, found)
	_, found, _ = mc.Get(ctx, "forever")
	assert.True(t, found)
}

func TestMemoryCacheCleanupEnforcesMaxSize(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(2, 0)
	defer mc.Close()

	for i, key := range []string{"a", "b", "c"} {
		require.NoError(t, mc.Set(ctx, key, []byte(key), time.Duration(i+1)*time.Hour))
	}
	require.NoError(t, mc.Set(ctx, "pinned", []byte("p"), 0))
	mc.cleanup()

	_, found, _ := mc.Get(ctx, "a")
	assert.False(t, found, "entry closest to expiry is evicted")
	for _, key := range []string{"b", "c", "pinned"} {
		_, found, _ := mc.Get(ctx, key)
		assert.True(t, found, key)
	}
}

func TestMemoryCacheCloseTwice(t *testing.T) {
	mc := NewMemoryCache(1, time.Millisecond)
	require.NoError(t, mc.Close())
	require.NoError(t, mc.Close())
}

func TestNewFallsBackToMemory(t *testing.T) {
	cfg := DefaultCacheConfig()
	backend, kind := New(context.Background(), cfg)
	defer backend.Close()
	assert.Equal(t, BackendMemory, kind)

	cfg.RedisURL = "not a url"
	backend, kind = New(context.Background(), cfg)
	defer backend.Close()
	assert.Equal(t, BackendMemory, kind)
}
