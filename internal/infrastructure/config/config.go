package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// envPrefix is the prefix shared by every environment override.
const envPrefix = "ZBRIDGE_"

// Config is the root configuration structure for the zigbee bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway     GatewayConfig     `yaml:"gateway"`
	Platform    PlatformConfig    `yaml:"platform"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Zigbee      ZigbeeConfig      `yaml:"zigbee"`
	Database    DatabaseConfig    `yaml:"database"`
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// GatewayConfig describes the zigbee2mqtt side of the bridge.
type GatewayConfig struct {
	MQTT      MQTTConfig `yaml:"mqtt"`
	BaseTopic string     `yaml:"base_topic"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// PlatformConfig describes the IoT platform broker that every virtual
// device session connects to.
type PlatformConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`

	// Realm is the platform account the devices are paired into. It is the
	// guest password and the second segment of the authenticated prefix.
	Realm string `yaml:"realm"`

	// KeepAlive is the MQTT keepalive in seconds used by every session.
	KeepAlive int `yaml:"keepalive"`

	// ConnectTimeout bounds a single session dial, in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// GuestPrefix is the topic root used while a device is unpaired.
	GuestPrefix string `yaml:"guest_prefix"`

	// TopicVersion is the first segment of the authenticated prefix.
	TopicVersion string `yaml:"topic_version"`

	// AutoRepairOnAuthFailure forgets the stored apiKey and re-enters
	// pairing when the broker rejects it. Production deployments disable it.
	AutoRepairOnAuthFailure bool `yaml:"auto_repair_on_auth_failure"`
}

// CredentialsConfig selects where apiKeys are persisted.
type CredentialsConfig struct {
	// Backend is one of "sqlite", "bolt" or "memory".
	Backend  string `yaml:"backend"`
	BoltPath string `yaml:"bolt_path"`
}

// ZigbeeConfig tunes the dispatcher.
type ZigbeeConfig struct {
	MaxConcurrentInit int           `yaml:"max_concurrent_init"`
	RestartBackoff    BackoffConfig `yaml:"restart_backoff"`
}

// BackoffConfig controls supervisor restarts, in seconds.
type BackoffConfig struct {
	Initial int `yaml:"initial"`
	Max     int `yaml:"max"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
	Auth     APIAuthConfig    `yaml:"auth"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// APIAuthConfig enables bearer token checks on device routes when
// JWTSecret is non-empty.
type APIAuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ZBRIDGE_SECTION_KEY
// For example: ZBRIDGE_PLATFORM_REALM, ZBRIDGE_GATEWAY_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			MQTT: MQTTConfig{
				Broker: MQTTBrokerConfig{
					Host:     "localhost",
					Port:     1883,
					ClientID: "zigbee-bridge",
				},
				QoS: 1,
				Reconnect: MQTTReconnectConfig{
					InitialDelay: 1,
					MaxDelay:     60,
				},
			},
			BaseTopic: "zigbee2mqtt",
		},
		Platform: PlatformConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			KeepAlive:               20,
			ConnectTimeout:          10,
			GuestPrefix:             "prefix",
			TopicVersion:            "v2",
			AutoRepairOnAuthFailure: true,
		},
		Credentials: CredentialsConfig{
			Backend:  "sqlite",
			BoltPath: "./data/credentials.bolt",
		},
		Zigbee: ZigbeeConfig{
			MaxConcurrentInit: 4,
			RestartBackoff: BackoffConfig{
				Initial: 1,
				Max:     60,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/zigbee-bridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Gateway
	if v := os.Getenv(envPrefix + "GATEWAY_HOST"); v != "" {
		cfg.Gateway.MQTT.Broker.Host = v
	}
	if v, ok := envInt("GATEWAY_PORT"); ok {
		cfg.Gateway.MQTT.Broker.Port = v
	}

	// Platform
	if v := os.Getenv(envPrefix + "PLATFORM_HOST"); v != "" {
		cfg.Platform.Broker.Host = v
	}
	if v, ok := envInt("PLATFORM_PORT"); ok {
		cfg.Platform.Broker.Port = v
	}
	if v := os.Getenv(envPrefix + "PLATFORM_REALM"); v != "" {
		cfg.Platform.Realm = v
	}
	if v := os.Getenv(envPrefix + "PRODUCTION"); v != "" {
		if production, err := strconv.ParseBool(v); err == nil && production {
			cfg.Platform.AutoRepairOnAuthFailure = false
		}
	}

	// Storage
	if v := os.Getenv(envPrefix + "DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv(envPrefix + "CREDENTIALS_BACKEND"); v != "" {
		cfg.Credentials.Backend = v
	}

	// InfluxDB
	if v := os.Getenv(envPrefix + "INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv(envPrefix + "JWT_SECRET"); v != "" {
		cfg.API.Auth.JWTSecret = v
	}

	// Logging
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// envInt reads an integer override, ignoring unparsable values.
func envInt(key string) (int, bool) {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Gateway validation
	if c.Gateway.MQTT.Broker.Host == "" {
		errs = append(errs, "gateway.mqtt.broker.host is required")
	}
	if !validPort(c.Gateway.MQTT.Broker.Port) {
		errs = append(errs, "gateway.mqtt.broker.port must be between 1 and 65535")
	}
	if c.Gateway.MQTT.QoS < 0 || c.Gateway.MQTT.QoS > 2 {
		errs = append(errs, "gateway.mqtt.qos must be 0, 1, or 2")
	}
	if c.Gateway.BaseTopic == "" || strings.ContainsAny(c.Gateway.BaseTopic, "+#") {
		errs = append(errs, "gateway.base_topic must be a non-empty topic without wildcards")
	}

	// Platform validation
	if c.Platform.Broker.Host == "" {
		errs = append(errs, "platform.broker.host is required")
	}
	if !validPort(c.Platform.Broker.Port) {
		errs = append(errs, "platform.broker.port must be between 1 and 65535")
	}
	if c.Platform.Realm == "" {
		errs = append(errs, "platform.realm is required (set ZBRIDGE_PLATFORM_REALM environment variable)")
	} else if strings.ContainsAny(c.Platform.Realm, "/+#") {
		errs = append(errs, "platform.realm must not contain '/', '+' or '#'")
	}
	if c.Platform.KeepAlive <= 0 {
		errs = append(errs, "platform.keepalive must be positive")
	}
	if c.Platform.ConnectTimeout <= 0 {
		errs = append(errs, "platform.connect_timeout must be positive")
	}
	if c.Platform.GuestPrefix == "" {
		errs = append(errs, "platform.guest_prefix is required")
	}
	if c.Platform.TopicVersion == "" {
		errs = append(errs, "platform.topic_version is required")
	}

	// Credentials validation
	switch c.Credentials.Backend {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite credentials backend")
		}
	case "bolt":
		if c.Credentials.BoltPath == "" {
			errs = append(errs, "credentials.bolt_path is required for the bolt backend")
		}
	case "memory":
	default:
		errs = append(errs, "credentials.backend must be sqlite, bolt, or memory")
	}

	// Dispatcher validation
	if c.Zigbee.MaxConcurrentInit < 1 {
		errs = append(errs, "zigbee.max_concurrent_init must be at least 1")
	}
	if c.Zigbee.RestartBackoff.Initial <= 0 || c.Zigbee.RestartBackoff.Max < c.Zigbee.RestartBackoff.Initial {
		errs = append(errs, "zigbee.restart_backoff requires 0 < initial <= max")
	}

	// API validation
	if c.API.Enabled && !validPort(c.API.Port) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	const minJWTSecretLength = 32
	if s := c.API.Auth.JWTSecret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "api.auth.jwt_secret must be at least 32 characters")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}

// GetKeepAlive returns the platform session keepalive as a Duration.
func (c *Config) GetKeepAlive() time.Duration {
	return time.Duration(c.Platform.KeepAlive) * time.Second
}

// GetConnectTimeout returns the platform session dial timeout as a Duration.
func (c PlatformConfig) GetConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c APIConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c APIConfig) GetWriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c APIConfig) GetIdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}
