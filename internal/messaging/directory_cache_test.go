package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postbox/internal/logger"
	"postbox/pkg/circuitbreaker"
)

func newCachedDirectory(t *testing.T, next UserDirectory) (*CachedDirectory, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cb := circuitbreaker.NewWrapper(circuitbreaker.DefaultConfig("directory"))
	return NewCachedDirectory(next, client, cb, time.Minute, logger.NopLogger()), mr
}

func TestCachedDirectory_Resolve_CachesHits(t *testing.T) {
	next := newFakeDirectory(1)
	next.users[1].Username = "ada"
	dir, mr := newCachedDirectory(t, next)
	ctx := context.Background()

	user, err := dir.Resolve(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "ada", user.Username)
	assert.True(t, mr.Exists("postbox:directory:user:1"))
	assert.Equal(t, time.Minute, mr.TTL("postbox:directory:user:1"))

	user, err = dir.Resolve(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "ada", user.Username)
	assert.Equal(t, 1, next.calls)

	mr.FastForward(2 * time.Minute)
	_, err = dir.Resolve(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestCachedDirectory_Resolve_AbsentNotCached(t *testing.T) {
	next := newFakeDirectory()
	dir, mr := newCachedDirectory(t, next)

	user, err := dir.Resolve(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, user)
	assert.False(t, mr.Exists("postbox:directory:user:42"))
}

func TestCachedDirectory_Resolve_RedisDown(t *testing.T) {
	next := newFakeDirectory(1)
	dir, mr := newCachedDirectory(t, next)
	mr.Close()

	user, err := dir.Resolve(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, int64(1), user.ID)
}

func TestCachedDirectory_Resolve_DirectoryError(t *testing.T) {
	next := newFakeDirectory(1)
	next.err = errStorage
	dir, _ := newCachedDirectory(t, next)

	_, err := dir.Resolve(context.Background(), 1)
	assert.ErrorIs(t, err, errStorage)
}

