package cache_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/illmade-knight/go-assetedge/pkg/cache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) *cache.RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)

	store, err := cache.NewRedisStore(context.Background(), &cache.RedisConfig{
		Addr:      mr.Addr(),
		KeyPrefix: "test",
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStore(t *testing.T) {
	storeContract(t, func(t *testing.T) cache.Store {
		return newRedisStore(t)
	})
}

func TestRedisStore_EvictOverflow(t *testing.T) {
	ctx := context.Background()
	store := newRedisStore(t)
	const maxEntries = 5

	var written []cache.RequestKey
	for i := 0; i < maxEntries+5; i++ {
		key := mustKey(t, fmt.Sprintf("https://site.example/img/%d.webp", i))
		require.NoError(t, store.Put(ctx, "images", key, textResponse(key.URL)))
		written = append(written, key)
		_, err := cache.EvictOverflow(ctx, store, "images", maxEntries)
		require.NoError(t, err)
	}

	keys, err := store.Keys(ctx, "images")
	require.NoError(t, err)
	assert.Equal(t, written[len(written)-maxEntries:], keys)
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := cache.NewRedisStore(context.Background(), &cache.RedisConfig{Addr: addr}, zerolog.Nop())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}
