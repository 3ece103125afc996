package config

import (
	"errors"
	"fmt"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateStatic checks every section and reports all problems at once.
func ValidateStatic(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(cfg.Server)...)
	errs = append(errs, validateDatabase(cfg.Database)...)
	if cfg.Broker.Enabled {
		errs = append(errs, validateKafka(cfg.Broker.Kafka)...)
	}
	errs = append(errs, validateDelivery(cfg.Delivery)...)
	errs = append(errs, validateTransport(cfg.Transport, cfg.Database.Redis)...)
	errs = append(errs, validatePolicies(cfg.Validation.Policies)...)

	if cfg.Directory.CacheEnabled && cfg.Directory.CacheTTL <= 0 {
		errs = append(errs, fieldErr("directory.cache_ttl", "cache TTL must be positive when caching is enabled"))
	}

	if cfg.RateLimit.Enabled && (cfg.RateLimit.RPS <= 0 || cfg.RateLimit.Burst <= 0) {
		errs = append(errs, fieldErr("rate_limit", "rps and burst must be positive when enabled"))
	}

	return errors.Join(errs...)
}

func fieldErr(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func validPort(port int) bool {
	return port >= 1 && port <= 65535
}

func validateServer(cfg ServerConfig) []error {
	var errs []error

	if !validPort(cfg.Port) {
		errs = append(errs, fieldErr("server.port", "port must be between 1 and 65535, got %d", cfg.Port))
	}
	if cfg.ReadTimeout <= 0 {
		errs = append(errs, fieldErr("server.read_timeout", "read timeout must be positive"))
	}
	if cfg.WriteTimeout <= 0 {
		errs = append(errs, fieldErr("server.write_timeout", "write timeout must be positive"))
	}

	return errs
}

func validateDatabase(cfg DatabaseConfig) []error {
	var errs []error

	pg := cfg.Postgres
	if pg.Host == "" {
		errs = append(errs, fieldErr("database.postgres.host", "PostgreSQL host is required"))
	}
	if !validPort(pg.Port) {
		errs = append(errs, fieldErr("database.postgres.port", "port must be between 1 and 65535, got %d", pg.Port))
	}
	if pg.User == "" {
		errs = append(errs, fieldErr("database.postgres.user", "PostgreSQL user is required"))
	}
	if pg.DBName == "" {
		errs = append(errs, fieldErr("database.postgres.dbname", "PostgreSQL database name is required"))
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if pg.SSLMode != "" && !validSSLModes[strings.ToLower(pg.SSLMode)] {
		errs = append(errs, fieldErr("database.postgres.sslmode", "invalid SSL mode: %s", pg.SSLMode))
	}

	if cfg.Redis.Host != "" && !validPort(cfg.Redis.Port) {
		errs = append(errs, fieldErr("database.redis.port", "port must be between 1 and 65535, got %d", cfg.Redis.Port))
	}

	if cfg.MongoDB.URI != "" {
		if !strings.HasPrefix(cfg.MongoDB.URI, "mongodb://") && !strings.HasPrefix(cfg.MongoDB.URI, "mongodb+srv://") {
			errs = append(errs, fieldErr("database.mongodb.uri", "MongoDB URI must start with mongodb:// or mongodb+srv://"))
		}
		if cfg.MongoDB.Database == "" {
			errs = append(errs, fieldErr("database.mongodb.database", "MongoDB database name is required"))
		}
	}

	return errs
}

func validateKafka(cfg KafkaConfig) []error {
	var errs []error

	if len(cfg.Brokers) == 0 {
		errs = append(errs, fieldErr("broker.kafka.brokers", "at least one Kafka broker is required"))
	}
	for i, broker := range cfg.Brokers {
		if broker == "" {
			errs = append(errs, fieldErr(fmt.Sprintf("broker.kafka.brokers[%d]", i), "broker address cannot be empty"))
		}
	}
	if cfg.GroupID == "" {
		errs = append(errs, fieldErr("broker.kafka.group_id", "Kafka consumer group ID is required"))
	}
	if cfg.CommandTopic == "" {
		errs = append(errs, fieldErr("broker.kafka.command_topic", "command topic is required"))
	}

	errs = append(errs, validateRetry("broker.kafka.retry", cfg.Retry)...)
	return errs
}

func validateRetry(prefix string, cfg RetryConfig) []error {
	var errs []error

	if cfg.MaxAttempts < 0 {
		errs = append(errs, fieldErr(prefix+".max_attempts", "max_attempts must be non-negative"))
	}
	if cfg.InitialInterval < 0 {
		errs = append(errs, fieldErr(prefix+".initial_interval", "initial_interval must be non-negative"))
	}
	if cfg.MaxInterval > 0 && cfg.InitialInterval > 0 && cfg.MaxInterval < cfg.InitialInterval {
		errs = append(errs, fieldErr(prefix+".max_interval", "max_interval must be greater than or equal to initial_interval"))
	}
	if cfg.Multiplier <= 0 {
		errs = append(errs, fieldErr(prefix+".multiplier", "multiplier must be positive"))
	}

	return errs
}

func validateDelivery(cfg DeliveryConfig) []error {
	var errs []error

	if cfg.PollInterval <= 0 {
		errs = append(errs, fieldErr("delivery.poll_interval", "poll interval must be positive"))
	}
	if cfg.BatchSize <= 0 {
		errs = append(errs, fieldErr("delivery.batch_size", "batch size must be positive"))
	}
	if cfg.LeaseDuration <= 0 {
		errs = append(errs, fieldErr("delivery.lease_duration", "lease duration must be positive"))
	}
	if cfg.AckTimeout <= 0 {
		errs = append(errs, fieldErr("delivery.ack_timeout", "ack timeout must be positive"))
	}
	if cfg.Retention <= 0 {
		errs = append(errs, fieldErr("delivery.retention", "retention must be positive"))
	}
	if cfg.PurgeAfter > 0 && cfg.PurgeAfter < cfg.Retention {
		errs = append(errs, fieldErr("delivery.purge_after", "purge_after must not be shorter than retention"))
	}

	errs = append(errs, validateRetry("delivery.backoff", cfg.Backoff)...)
	return errs
}

func validateTransport(cfg TransportConfig, redis RedisConfig) []error {
	switch cfg.Type {
	case "websocket":
		return nil
	case "redis":
		if redis.Host == "" {
			return []error{fieldErr("database.redis.host", "redis transport requires a Redis host")}
		}
		if cfg.ChannelPrefix == "" {
			return []error{fieldErr("transport.channel_prefix", "channel prefix is required")}
		}
		return nil
	default:
		return []error{fieldErr("transport.type", "unknown transport type: %s (supported: websocket, redis)", cfg.Type)}
	}
}

func validatePolicies(policies []PolicyConfig) []error {
	var errs []error

	for i, p := range policies {
		field := fmt.Sprintf("validation.policies[%d]", i)
		if p.Request == "" {
			errs = append(errs, fieldErr(field+".request", "request name is required"))
		}
		if p.Expression == "" {
			errs = append(errs, fieldErr(field+".expression", "expression is required"))
		}
		if p.Message == "" {
			errs = append(errs, fieldErr(field+".message", "message is required"))
		}
	}

	return errs
}
