// Package config provides configuration management for the search outbox
// agents and the administrative server.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Backend kinds accepted by backend.kind.
const (
	BackendKafka = "kafka"
	BackendNATS  = "nats"
	BackendLog   = "log"
)

// envPrefix prefixes every environment variable read by Load.
const envPrefix = "SEARCHOUTBOX"

// Config holds all configuration for the search outbox.
type Config struct {
	// Server contains HTTP/gRPC server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Agent contains the identity of this agent process.
	Agent AgentConfig `mapstructure:"agent"`
	// Outbox contains draining, retry and cluster timing settings.
	Outbox OutboxConfig `mapstructure:"outbox"`
	// Tenancy contains multi-tenancy settings.
	Tenancy TenancyConfig `mapstructure:"tenancy"`
	// Backend selects the indexing backend.
	Backend BackendConfig `mapstructure:"backend"`
	// Kafka contains Kafka backend settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// NATS contains NATS backend settings.
	NATS NATSConfig `mapstructure:"nats"`
	// Control contains the operator command listener settings.
	Control ControlConfig `mapstructure:"control"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the admin HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// GRPCPort is the gRPC health server port of an agent (default: 9090).
	GRPCPort int `mapstructure:"grpc_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 20).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 2).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is a directory of migration files for the migrate CLI.
	// Empty selects the migrations built into the binary.
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
	// StatementCacheCapacity is the size of the prepared statement cache.
	StatementCacheCapacity int `mapstructure:"statement_cache_capacity"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`
}

// AgentConfig holds the identity of an agent process.
type AgentConfig struct {
	// Name is a human readable agent name. Defaults to the hostname when empty.
	Name string `mapstructure:"name"`
}

// OutboxConfig holds draining, retry and cluster timing settings.
type OutboxConfig struct {
	// PollInterval is how long the pipeline sleeps after finding no events.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// BatchSize is the maximum number of events fetched per pass.
	BatchSize int `mapstructure:"batch_size"`
	// MaxRetries is the retry count at which a failing event is aborted.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelay is how long a failed event stays invisible before the next attempt.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// PulseInterval is how often agents refresh their liveness record.
	PulseInterval time.Duration `mapstructure:"pulse_interval"`
	// DeadAgentTimeout is how long an agent may miss pulses before peers evict it.
	DeadAgentTimeout time.Duration `mapstructure:"dead_agent_timeout"`
	// BackendTimeout bounds a single backend batch submission.
	BackendTimeout time.Duration `mapstructure:"backend_timeout"`
	// BackendRateLimit caps backend items per second (0 disables limiting).
	BackendRateLimit float64 `mapstructure:"backend_rate_limit"`
	// BackendRateBurst is the burst size of the backend rate limiter.
	BackendRateBurst int `mapstructure:"backend_rate_burst"`
	// HashTable is the shard assignment strategy name.
	HashTable string `mapstructure:"hash_table"`
}

// TenancyConfig holds multi-tenancy settings.
type TenancyConfig struct {
	// Enabled turns on tenant scoping of events and admin operations.
	Enabled bool `mapstructure:"enabled"`
	// Tenants lists the known tenant identifiers. Agents drain these tenants
	// and admin operations reject any other identifier.
	Tenants []string `mapstructure:"tenants"`
}

// BackendConfig selects the indexing backend.
type BackendConfig struct {
	// Kind is the backend implementation (kafka, nats, log).
	Kind string `mapstructure:"kind"`
}

// KafkaConfig holds Kafka backend settings.
type KafkaConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// TopicPrefix is prepended to the event route to form the topic name.
	TopicPrefix string `mapstructure:"topic_prefix"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	// RequiredAcks is the acknowledgement level (-1 all, 0 none, 1 leader).
	RequiredAcks int `mapstructure:"required_acks"`
}

// NATSConfig holds NATS backend settings.
type NATSConfig struct {
	// URL is the NATS server URL.
	URL string `mapstructure:"url"`
	// SubjectPrefix is prepended to the event route to form the subject.
	SubjectPrefix string `mapstructure:"subject_prefix"`
	// SubjectShards splits each route into this many subjects by entity id.
	// Zero or one publishes on the route subject directly.
	SubjectShards int `mapstructure:"subject_shards"`
	// ConnectTimeout bounds the initial connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// FlushTimeout bounds each post-publish flush when the submit has no
	// deadline of its own.
	FlushTimeout time.Duration `mapstructure:"flush_timeout"`
}

// ControlConfig holds settings of the Kafka topic carrying operator commands.
type ControlConfig struct {
	// Enabled starts the command listener in the admin server.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the command topic.
	Topic string `mapstructure:"topic"`
	// GroupID is the consumer group ID.
	GroupID string `mapstructure:"group_id"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	if c.StatementCacheCapacity > 0 {
		params.Set("statement_cache_capacity", fmt.Sprintf("%d", c.StatementCacheCapacity))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// GRPCAddress returns the gRPC server address.
func (c *ServerConfig) GRPCAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// IsKnownTenant reports whether id is one of the configured tenants.
func (c *TenancyConfig) IsKnownTenant(id string) bool {
	for _, tenant := range c.Tenants {
		if tenant == id {
			return true
		}
	}
	return false
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/search-outbox")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "searchoutbox")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "search_outbox")
	// Use SEARCHOUTBOX_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "")
	v.SetDefault("database.migration_auto_run", false)
	v.SetDefault("database.statement_cache_capacity", 512)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "search_outbox")

	v.SetDefault("agent.name", "")

	// Outbox defaults
	v.SetDefault("outbox.poll_interval", "100ms")
	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.max_retries", 3)
	v.SetDefault("outbox.retry_delay", "30s")
	v.SetDefault("outbox.pulse_interval", "2s")
	v.SetDefault("outbox.dead_agent_timeout", "30s")
	v.SetDefault("outbox.backend_timeout", "30s")
	v.SetDefault("outbox.backend_rate_limit", 0.0)
	v.SetDefault("outbox.backend_rate_burst", 1)
	v.SetDefault("outbox.hash_table", "range")

	// Tenancy defaults
	v.SetDefault("tenancy.enabled", false)
	v.SetDefault("tenancy.tenants", []string{})

	v.SetDefault("backend.kind", BackendLog)

	// Kafka defaults
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "search.index.")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")
	v.SetDefault("kafka.required_acks", -1)

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject_prefix", "search.index")
	v.SetDefault("nats.subject_shards", 0)
	v.SetDefault("nats.connect_timeout", "5s")
	v.SetDefault("nats.flush_timeout", "10s")

	// Control listener defaults
	v.SetDefault("control.enabled", false)
	v.SetDefault("control.brokers", []string{"localhost:9092"})
	v.SetDefault("control.topic", "search-outbox.control")
	v.SetDefault("control.group_id", "search-outbox-admin")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.GRPCPort <= 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.Server.GRPCPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	// Validate database config
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if err := c.Outbox.validate(); err != nil {
		return err
	}

	if c.Tenancy.Enabled && len(c.Tenancy.Tenants) == 0 {
		return fmt.Errorf("tenancy is enabled but no tenants are configured")
	}
	if !c.Tenancy.Enabled && len(c.Tenancy.Tenants) > 0 {
		return fmt.Errorf("tenants are configured but tenancy is disabled")
	}

	switch c.Backend.Kind {
	case BackendKafka:
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka backend requires at least one broker")
		}
	case BackendNATS:
		if c.NATS.URL == "" {
			return fmt.Errorf("nats backend requires a url")
		}
		if c.NATS.SubjectShards < 0 {
			return fmt.Errorf("nats subject_shards must be >= 0")
		}
	case BackendLog:
	default:
		return fmt.Errorf("unknown backend kind: %q", c.Backend.Kind)
	}

	if c.Control.Enabled {
		if len(c.Control.Brokers) == 0 {
			return fmt.Errorf("control listener requires at least one broker")
		}
		if c.Control.Topic == "" || c.Control.GroupID == "" {
			return fmt.Errorf("control listener requires a topic and a group_id")
		}
	}

	return nil
}

func (c *OutboxConfig) validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("outbox poll_interval must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("outbox batch_size must be positive")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("outbox max_retries must be positive")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("outbox retry_delay must not be negative")
	}
	if c.PulseInterval <= 0 {
		return fmt.Errorf("outbox pulse_interval must be positive")
	}
	// Anything tighter evicts live agents under ordinary scheduling delay.
	if c.DeadAgentTimeout <= 3*c.PulseInterval {
		return fmt.Errorf("outbox dead_agent_timeout (%s) must be greater than 3 * pulse_interval (%s)",
			c.DeadAgentTimeout, c.PulseInterval)
	}
	if c.BackendTimeout <= 0 {
		return fmt.Errorf("outbox backend_timeout must be positive")
	}
	if c.BackendRateLimit < 0 {
		return fmt.Errorf("outbox backend_rate_limit must not be negative")
	}
	if c.BackendRateLimit > 0 && c.BackendRateBurst <= 0 {
		return fmt.Errorf("outbox backend_rate_burst must be positive when rate limiting is enabled")
	}
	if c.HashTable == "" {
		return fmt.Errorf("outbox hash_table is required")
	}
	return nil
}
