package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Broker transport kinds.
const (
	TransportMQTT   = "mqtt"
	TransportMQTT5  = "mqtt5"
	TransportRedis  = "redis"
	TransportMemory = "memory"
)

// clientIDPrefix prefixes generated client identifiers.
const clientIDPrefix = "chatlink-"

// minJWTSecretLength is the shortest accepted HS256 secret.
const minJWTSecretLength = 32

// Config is the root configuration structure for ChatLink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	Chat      ChatConfig      `yaml:"chat"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BrokerConfig contains broker connection settings.
type BrokerConfig struct {
	// Transport selects the implementation: mqtt, mqtt5, redis or memory.
	Transport string        `yaml:"transport"`
	Host      string        `yaml:"host"`
	Port      int           `yaml:"port"`
	TLS       bool          `yaml:"tls"`
	ClientID  string        `yaml:"client_id"`
	KeepAlive time.Duration `yaml:"keepalive"`
	Auth      AuthConfig    `yaml:"auth"`

	// Presence publishes retained online/offline documents (mqtt only).
	Presence bool `yaml:"presence"`

	// RedisDB selects the Redis logical database (redis only).
	RedisDB int `yaml:"redis_db"`
}

// AuthConfig contains broker credentials.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ChatConfig selects the chat channel.
type ChatConfig struct {
	Channel string `yaml:"channel"`
	QoS     int    `yaml:"qos"`
}

// ReconnectConfig contains the bounded retry settings.
type ReconnectConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// TimeoutsConfig bounds each transport operation.
type TimeoutsConfig struct {
	Connect    time.Duration `yaml:"connect"`
	Disconnect time.Duration `yaml:"disconnect"`
	Publish    time.Duration `yaml:"publish"`
	Subscribe  time.Duration `yaml:"subscribe"`
}

// DatabaseConfig contains SQLite settings for the lifecycle journal.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT verification settings. An empty secret leaves the
// API unauthenticated.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), skipped when path is empty
//  3. Environment variables (override file values)
//  4. Generated client id when none was configured
//
// Environment variables follow the pattern: CHATLINK_SECTION_KEY
// For example: CHATLINK_BROKER_HOST, CHATLINK_CHAT_CHANNEL
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if strings.TrimSpace(cfg.Broker.ClientID) == "" {
		cfg.Broker.ClientID = NewClientID()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// NewClientID returns a unique broker client identifier.
func NewClientID() string {
	return clientIDPrefix + uuid.NewString()
}

// defaultConfig returns a Config reproducing the reference chat client.
func defaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			Transport: TransportMQTT,
			Host:      "test.mosquitto.org",
			Port:      1883,
			KeepAlive: 60 * time.Second,
		},
		Chat: ChatConfig{
			Channel: "chat/publico/kotlin_compose",
			QoS:     0,
		},
		Reconnect: ReconnectConfig{
			MaxAttempts: 3,
			Delay:       3 * time.Second,
			SettleDelay: 2 * time.Second,
		},
		Timeouts: TimeoutsConfig{
			Connect:    15 * time.Second,
			Disconnect: 5 * time.Second,
			Publish:    10 * time.Second,
			Subscribe:  10 * time.Second,
		},
		Database: DatabaseConfig{
			Path:        "./data/chatlink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/v1/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: CHATLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Broker
	if v := os.Getenv("CHATLINK_BROKER_TRANSPORT"); v != "" {
		cfg.Broker.Transport = v
	}
	if v := os.Getenv("CHATLINK_BROKER_HOST"); v != "" {
		cfg.Broker.Host = v
	}
	if v := os.Getenv("CHATLINK_BROKER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CHATLINK_BROKER_PORT: %w", err)
		}
		cfg.Broker.Port = port
	}
	if v := os.Getenv("CHATLINK_BROKER_CLIENT_ID"); v != "" {
		cfg.Broker.ClientID = v
	}
	if v := os.Getenv("CHATLINK_BROKER_USERNAME"); v != "" {
		cfg.Broker.Auth.Username = v
	}
	if v := os.Getenv("CHATLINK_BROKER_PASSWORD"); v != "" {
		cfg.Broker.Auth.Password = v
	}

	// Chat
	if v := os.Getenv("CHATLINK_CHAT_CHANNEL"); v != "" {
		cfg.Chat.Channel = v
	}

	// Database
	if v := os.Getenv("CHATLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("CHATLINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("CHATLINK_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CHATLINK_API_PORT: %w", err)
		}
		cfg.API.Port = port
	}

	// InfluxDB
	if v := os.Getenv("CHATLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("CHATLINK_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}

	// Logging
	if v := os.Getenv("CHATLINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// Broker validation
	switch c.Broker.Transport {
	case TransportMQTT, TransportMQTT5, TransportRedis:
		if c.Broker.Host == "" {
			errs = append(errs, "broker.host is required")
		}
		if c.Broker.Port < 1 || c.Broker.Port > 65535 {
			errs = append(errs, "broker.port must be between 1 and 65535")
		}
	case TransportMemory:
	default:
		errs = append(errs, fmt.Sprintf("broker.transport %q is not one of mqtt, mqtt5, redis, memory", c.Broker.Transport))
	}
	if c.Broker.KeepAlive < 0 {
		errs = append(errs, "broker.keepalive cannot be negative")
	}

	// Chat validation
	if c.Chat.Channel == "" {
		errs = append(errs, "chat.channel is required")
	}
	if c.Chat.QoS < 0 || c.Chat.QoS > 2 {
		errs = append(errs, "chat.qos must be 0, 1, or 2")
	}

	// Reconnect validation
	if c.Reconnect.MaxAttempts < 0 {
		errs = append(errs, "reconnect.max_attempts cannot be negative")
	}
	if c.Reconnect.MaxAttempts > 0 && c.Reconnect.Delay <= 0 {
		errs = append(errs, "reconnect.delay must be positive")
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the journal is enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Security validation. The secret is optional; a short one is not.
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
