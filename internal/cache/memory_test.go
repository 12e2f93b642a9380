package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SetAndGet(t *testing.T) {
	cache := NewMemoryCache(DefaultConfig())
	defer cache.Close()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", []byte("v"), time.Minute))

	value, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)
}

func TestMemoryCache_GetMiss(t *testing.T) {
	cache := NewMemoryCache(DefaultConfig())
	defer cache.Close()

	_, err := cache.Get(context.Background(), "missing")
	assert.Error(t, err)
	assert.True(t, IsCacheMiss(err))
}

func TestMemoryCache_Expiration(t *testing.T) {
	cache := NewMemoryCache(DefaultConfig())
	defer cache.Close()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	_, err := cache.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))
	assert.Equal(t, 0, cache.Len())
}

func TestMemoryCache_NegativeTTLNeverExpires(t *testing.T) {
	cache := NewMemoryCache(Config{})
	defer cache.Close()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", []byte("v"), -1))
	time.Sleep(5 * time.Millisecond)

	_, err := cache.Get(ctx, "k")
	assert.NoError(t, err)
}

func TestMemoryCache_DefaultTTLBoundsEveryEntry(t *testing.T) {
	cache := NewMemoryCache(Config{DefaultTTL: 10 * time.Millisecond})
	defer cache.Close()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", []byte("v"), time.Hour))
	time.Sleep(30 * time.Millisecond)

	_, err := cache.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	cache := NewMemoryCache(Config{MaxEntries: 2})
	defer cache.Close()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, cache.Set(ctx, "b", []byte("2"), 0))
	require.NoError(t, cache.Set(ctx, "a", []byte("3"), 0))
	require.NoError(t, cache.Set(ctx, "c", []byte("4"), 0))

	assert.Equal(t, 2, cache.Len())
	_, err := cache.Get(ctx, "b")
	assert.True(t, IsCacheMiss(err))

	value, err := cache.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), value)
}

func TestMemoryCache_DeleteAndClear(t *testing.T) {
	cache := NewMemoryCache(DefaultConfig())
	defer cache.Close()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, cache.Set(ctx, "b", []byte("2"), 0))

	require.NoError(t, cache.Delete(ctx, "a"))
	_, err := cache.Get(ctx, "a")
	assert.True(t, IsCacheMiss(err))

	require.NoError(t, cache.Clear(ctx))
	assert.Equal(t, 0, cache.Len())
}

func TestMemoryCache_ContextCancelled(t *testing.T) {
	cache := NewMemoryCache(DefaultConfig())
	defer cache.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cache.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, cache.Set(ctx, "k", nil, 0), context.Canceled)
}

func TestNew(t *testing.T) {
	c, err := New(Options{Backend: BackendNone})
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = New(Options{Backend: BackendMemory, Config: DefaultConfig()})
	require.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, c)
	require.NoError(t, c.Close())

	_, err = New(Options{Backend: "memcached"})
	assert.Error(t, err)
}

func TestQueryKey(t *testing.T) {
	env := map[string]string{"a": "1", "b": "2"}

	k1 := QueryKey("3-aa", `name == "x"`, env)
	k2 := QueryKey("3-aa", `name == "x"`, map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, k1, k2)
	assert.True(t, strings.HasPrefix(k1, "query:3-aa:"))

	assert.NotEqual(t, k1, QueryKey("3-bb", `name == "x"`, env))
	assert.NotEqual(t, k1, QueryKey("3-aa", `name == "y"`, env))
	assert.NotEqual(t, k1, QueryKey("3-aa", `name == "x"`, nil))
	assert.NotEqual(t, QueryKey("1-aa", "q", map[string]string{"a": "1=b"}), QueryKey("1-aa", "q", map[string]string{"a": "1", "b": ""}))
}
