package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"postbox/internal/logger"
)

// releaseScript deletes the lock only while it still holds our token, so a
// holder whose TTL lapsed cannot free a lock taken over by another relay.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	client redis.UniversalClient
	log    logger.Logger
}

func NewRedisLocker(client redis.UniversalClient, log logger.Logger) *RedisLocker {
	return &RedisLocker{client: client, log: log}
}

// TryLock makes a single SET NX PX attempt; it never waits for the lock.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis SetNX failed: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			l.log.Warnw("Failed to release lock", "key", key, "error", err)
		}
	}
	return release, true, nil
}
