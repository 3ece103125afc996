package constants

import "time"

const (
	ServiceName = "messaging-service"
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DirectoryCacheKeyPrefix = "postbox:directory:user:"
	RelayLockKey            = "postbox:relay:maintenance"
)

const (
	DefaultConversationLimit = 50
	MaxConversationLimit     = 200
)

const (
	// UserIDHeader carries the caller identity established by the gateway.
	UserIDHeader = "X-User-ID"
	// RequestIDHeader is echoed back on every response.
	RequestIDHeader = "X-Request-ID"
)

const (
	HealthCheckTimeout = 2 * time.Second
)
