package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"postbox/internal/constants"
	"postbox/internal/logger"
	"postbox/pkg/circuitbreaker"
	"postbox/pkg/metrics"
)

// CachedDirectory fronts a UserDirectory with Redis. Cache failures never
// fail a lookup; the breaker stops calling Redis while it is unhealthy.
type CachedDirectory struct {
	next   UserDirectory
	client redis.UniversalClient
	cb     *circuitbreaker.Wrapper
	ttl    time.Duration
	log    logger.Logger
}

func NewCachedDirectory(next UserDirectory, client redis.UniversalClient, cb *circuitbreaker.Wrapper, ttl time.Duration, log logger.Logger) *CachedDirectory {
	return &CachedDirectory{next: next, client: client, cb: cb, ttl: ttl, log: log}
}

func cacheKey(id int64) string {
	return constants.DirectoryCacheKeyPrefix + strconv.FormatInt(id, 10)
}

func (d *CachedDirectory) Resolve(ctx context.Context, id int64) (*User, error) {
	cached, err := circuitbreaker.Do(ctx, d.cb, func(ctx context.Context) ([]byte, error) {
		raw, err := d.client.Get(ctx, cacheKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return raw, err
	})
	switch {
	case err != nil:
		metrics.IncDirectoryLookup("error")
		d.log.WarnwCtx(ctx, "user cache unavailable", "user_id", id, "error", err)
	case cached != nil:
		var u User
		if jsonErr := json.Unmarshal(cached, &u); jsonErr == nil {
			metrics.IncDirectoryLookup("hit")
			return &u, nil
		}
	}

	user, err := d.next.Resolve(ctx, id)
	if err != nil || user == nil {
		return user, err
	}
	metrics.IncDirectoryLookup("miss")

	if raw, jsonErr := json.Marshal(user); jsonErr == nil {
		_, setErr := circuitbreaker.Do(ctx, d.cb, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, d.client.Set(ctx, cacheKey(id), raw, d.ttl).Err()
		})
		if setErr != nil {
			d.log.DebugwCtx(ctx, "failed to cache user", "user_id", id, "error", setErr)
		}
	}

	return user, nil
}
