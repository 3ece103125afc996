package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"postbox/internal/delivery"
	"postbox/internal/logger"
)

// RedisBridge fans envelopes out to hubs in other processes. Each hub
// subscribes to the channel of every recipient connected to it, so the
// PUBLISH receiver count tells the relay whether anyone was online.
type RedisBridge struct {
	client redis.UniversalClient
	prefix string
	log    logger.Logger

	mu     sync.Mutex
	refs   map[string]int
	pubsub *redis.PubSub
	hub    *Hub
}

func NewRedisBridge(client redis.UniversalClient, prefix string, log logger.Logger) *RedisBridge {
	return &RedisBridge{
		client: client,
		prefix: prefix,
		log:    log.With("component", "redis_bridge"),
		refs:   make(map[string]int),
	}
}

func (b *RedisBridge) channel(recipient string) string {
	return b.prefix + recipient
}

// Push publishes env on the recipient's channel.
func (b *RedisBridge) Push(ctx context.Context, env delivery.Envelope) (bool, error) {
	payload, err := env.Marshal()
	if err != nil {
		return false, fmt.Errorf("failed to encode envelope: %w", err)
	}

	receivers, err := b.client.Publish(ctx, b.channel(env.To), payload).Result()
	if err != nil {
		return false, fmt.Errorf("redis publish failed: %w", err)
	}
	return receivers > 0, nil
}

// Attach makes b deliver received envelopes to hub. It must be called
// before Run.
func (b *RedisBridge) Attach(ctx context.Context, hub *Hub) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.hub = hub
	if b.pubsub != nil {
		return nil
	}
	b.pubsub = b.client.Subscribe(ctx)
	if len(b.refs) == 0 {
		return nil
	}
	channels := make([]string, 0, len(b.refs))
	for recipient := range b.refs {
		channels = append(channels, b.channel(recipient))
	}
	return b.pubsub.Subscribe(ctx, channels...)
}

func (b *RedisBridge) Join(ctx context.Context, recipient string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refs[recipient]++
	if b.refs[recipient] > 1 || b.pubsub == nil {
		return nil
	}
	return b.pubsub.Subscribe(ctx, b.channel(recipient))
}

func (b *RedisBridge) Leave(ctx context.Context, recipient string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.refs[recipient] == 0 {
		return nil
	}
	b.refs[recipient]--
	if b.refs[recipient] > 0 || b.pubsub == nil {
		return nil
	}
	delete(b.refs, recipient)
	return b.pubsub.Unsubscribe(ctx, b.channel(recipient))
}

// Run hands every received envelope to the attached hub until ctx is done.
func (b *RedisBridge) Run(ctx context.Context) error {
	b.mu.Lock()
	pubsub, hub := b.pubsub, b.hub
	b.mu.Unlock()
	if pubsub == nil || hub == nil {
		return fmt.Errorf("redis bridge is not attached to a hub")
	}
	defer pubsub.Close()

	b.log.Infow("Redis bridge started", "channel_prefix", b.prefix)

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			b.log.Infow("Redis bridge stopped")
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			env, err := delivery.UnmarshalEnvelope([]byte(msg.Payload))
			if err != nil {
				b.log.Warnw("Dropping undecodable envelope", "channel", msg.Channel, "error", err)
				continue
			}
			if _, err := hub.Push(ctx, env); err != nil {
				b.log.DebugwCtx(ctx, "Local push failed", "correlation_id", env.CorrelationID, "error", err)
			}
		}
	}
}
