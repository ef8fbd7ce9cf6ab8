package broadcast

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, loader CountLoader) (*CountCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCountCache(client, 5*time.Second, loader, logger), mr
}

func TestCountCacheLoadsOnceUntilInvalidated(t *testing.T) {
	loads := 0
	cache, _ := newTestCache(t, func(ctx context.Context) (int, error) {
		loads++
		return 42, nil
	})
	ctx := context.Background()

	count, err := cache.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 42, count)

	count, err = cache.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 42, count)
	require.Equal(t, 1, loads, "second read must come from the cache")
}

func TestCountCacheInvalidateForcesReload(t *testing.T) {
	loads := 0
	cache, mr := newTestCache(t, func(ctx context.Context) (int, error) {
		loads++
		return loads * 10, nil
	})
	ctx := context.Background()

	count, err := cache.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 10, count)

	cache.Invalidate(ctx)
	require.False(t, mr.Exists(countKey))

	count, err = cache.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 20, count)
	require.Equal(t, 2, loads)
}

func TestCountCacheTTLExpiry(t *testing.T) {
	loads := 0
	cache, mr := newTestCache(t, func(ctx context.Context) (int, error) {
		loads++
		return 7, nil
	})
	ctx := context.Background()

	_, err := cache.Get(ctx)
	require.NoError(t, err)

	mr.FastForward(6 * time.Second)

	_, err = cache.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, loads, "expired entry must be reloaded")
}

func TestCountCacheNilClientFallsThrough(t *testing.T) {
	loads := 0
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := NewCountCache(nil, time.Second, func(ctx context.Context) (int, error) {
		loads++
		return 3, nil
	}, logger)

	count, err := cache.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, count)
	require.Equal(t, 1, loads)

	// Invalidate on a nil client is a no-op.
	cache.Invalidate(context.Background())
}
