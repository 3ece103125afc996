package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const configFileEnv = "CONFIG_FILE"

// LoadConfig reads configFile (or $CONFIG_FILE), overlays environment
// variables and validates the result. With no file at all, defaults and
// environment alone are used.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVariables(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	if configFile == "" {
		configFile = os.Getenv(configFileEnv)
	}
	if configFile != "" {
		v.SetConfigType("yaml")
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.enable_swagger", true)

	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postbox")
	v.SetDefault("database.postgres.dbname", "postbox")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.postgres.max_open_conns", 20)
	v.SetDefault("database.postgres.max_idle_conns", 5)
	v.SetDefault("database.postgres.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.run_migrations", true)
	v.SetDefault("database.redis.port", 6379)
	v.SetDefault("database.mongodb.collection", "expired_envelopes")

	v.SetDefault("broker.kafka.group_id", "messaging-service")
	v.SetDefault("broker.kafka.command_topic", "messaging.commands")
	v.SetDefault("broker.kafka.event_topic", "messaging.delivery-events")
	v.SetDefault("broker.kafka.dlq_topic", "messaging.commands.dlq")
	v.SetDefault("broker.kafka.retry.max_attempts", 5)
	v.SetDefault("broker.kafka.retry.initial_interval", 200*time.Millisecond)
	v.SetDefault("broker.kafka.retry.max_interval", 5*time.Second)
	v.SetDefault("broker.kafka.retry.multiplier", 2.0)
	v.SetDefault("broker.kafka.retry.max_elapsed_time", 30*time.Second)

	v.SetDefault("logging.level", "info")

	v.SetDefault("delivery.poll_interval", time.Second)
	v.SetDefault("delivery.batch_size", 100)
	v.SetDefault("delivery.lease_duration", 30*time.Second)
	v.SetDefault("delivery.ack_timeout", time.Minute)
	v.SetDefault("delivery.retention", 7*24*time.Hour)
	v.SetDefault("delivery.purge_after", 30*24*time.Hour)
	v.SetDefault("delivery.lock_ttl", 30*time.Second)
	v.SetDefault("delivery.backoff.initial_interval", time.Second)
	v.SetDefault("delivery.backoff.max_interval", 5*time.Minute)
	v.SetDefault("delivery.backoff.multiplier", 2.0)

	v.SetDefault("transport.type", "websocket")
	v.SetDefault("transport.channel_prefix", "postbox:push:")
	v.SetDefault("transport.write_timeout", 5*time.Second)

	v.SetDefault("directory.cache_enabled", true)
	v.SetDefault("directory.cache_ttl", 5*time.Minute)

	v.SetDefault("rate_limit.rps", 50.0)
	v.SetDefault("rate_limit.burst", 100)
	v.SetDefault("rate_limit.cleanup_interval", time.Minute)
	v.SetDefault("rate_limit.max_age", 10*time.Minute)

	v.SetDefault("circuit_breaker.max_requests", 3)
	v.SetDefault("circuit_breaker.interval", time.Minute)
	v.SetDefault("circuit_breaker.timeout", 30*time.Second)
	v.SetDefault("circuit_breaker.failure_ratio", 0.6)
	v.SetDefault("circuit_breaker.min_requests", 5)

	v.SetDefault("tracing.service_name", "messaging-service")
	v.SetDefault("tracing.sampler.type", "always_on")
}

func bindEnvVariables(v *viper.Viper) error {
	keys := []string{
		"server.port",
		"database.postgres.host",
		"database.postgres.port",
		"database.postgres.user",
		"database.postgres.password",
		"database.postgres.dbname",
		"database.postgres.sslmode",
		"database.run_migrations",
		"database.redis.host",
		"database.redis.port",
		"database.redis.password",
		"database.redis.db",
		"database.mongodb.uri",
		"database.mongodb.database",
		"broker.enabled",
		"broker.kafka.brokers",
		"broker.kafka.group_id",
		"broker.kafka.command_topic",
		"broker.kafka.event_topic",
		"broker.kafka.dlq_topic",
		"transport.type",
		"logging.level",
		"tracing.enabled",
		"tracing.service_name",
		"tracing.otlp.endpoint",
		"tracing.otlp.insecure",
	}

	for _, key := range keys {
		env := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if brokersEnv := os.Getenv("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}
}

// PostgresDSN renders the lib/pq connection string.
func (c PostgresConfig) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
