package redislock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/poultrydesk/internal/config"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestTryAcquireIsExclusive(t *testing.T) {
	_, client := setupMiniredis(t)
	locker := New(client, "poultrydesk:lock:")
	ctx := context.Background()

	first, err := locker.TryAcquire(ctx, "feed-sync", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := locker.TryAcquire(ctx, "feed-sync", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, second)

	require.NoError(t, first.Release(ctx))

	third, err := locker.TryAcquire(ctx, "feed-sync", time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, third)
}

func TestLeaseExpires(t *testing.T) {
	mr, client := setupMiniredis(t)
	locker := New(client, "")
	ctx := context.Background()

	lease, err := locker.TryAcquire(ctx, "job", time.Second)
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.Equal(t, time.Second, mr.TTL("job"))

	mr.FastForward(2 * time.Second)

	other, err := locker.TryAcquire(ctx, "job", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, other)

	assert.ErrorIs(t, lease.Release(ctx), ErrNotHeld, "an expired lease must not drop the new holder")
	assert.True(t, mr.Exists("job"))
}

func TestNewClientFailsWithoutServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewClient(context.Background(), config.RedisConfig{Addr: addr})
	assert.Error(t, err)
}
