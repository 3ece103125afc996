package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postbox/internal/logger"
)

func newTestLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLocker(client, logger.NopLogger()), mr
}

func TestRedisLocker_TryLock_Exclusive(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	release, ok, err := locker.TryLock(ctx, "maintenance", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, "maintenance", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	assert.False(t, mr.Exists("maintenance"))

	_, ok, err = locker.TryLock(ctx, "maintenance", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLocker_TryLock_Expires(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	_, ok, err := locker.TryLock(ctx, "maintenance", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = locker.TryLock(ctx, "maintenance", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLocker_Release_StaleKeepsNewHolder(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	staleRelease, ok, err := locker.TryLock(ctx, "maintenance", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok, err = locker.TryLock(ctx, "maintenance", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	staleRelease()
	assert.True(t, mr.Exists("maintenance"))
}

func TestRedisLocker_TryLock_RedisError(t *testing.T) {
	locker, mr := newTestLocker(t)
	mr.Close()

	_, ok, err := locker.TryLock(context.Background(), "maintenance", time.Minute)
	assert.Error(t, err)
	assert.False(t, ok)
}
