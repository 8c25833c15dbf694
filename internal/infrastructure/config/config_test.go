package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
gateway:
  mqtt:
    broker:
      host: "zigbee.local"
      port: 1884
  base_topic: "z2m"
platform:
  broker:
    host: "platform.example.com"
    port: 8883
    tls: true
  realm: "alice"
  keepalive: 15
credentials:
  backend: "bolt"
  bolt_path: "/tmp/creds.bolt"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Gateway.MQTT.Broker.Host != "zigbee.local" {
		t.Errorf("Gateway host = %q, want %q", cfg.Gateway.MQTT.Broker.Host, "zigbee.local")
	}
	if cfg.Gateway.BaseTopic != "z2m" {
		t.Errorf("BaseTopic = %q, want %q", cfg.Gateway.BaseTopic, "z2m")
	}
	if cfg.Platform.Realm != "alice" {
		t.Errorf("Platform.Realm = %q, want %q", cfg.Platform.Realm, "alice")
	}
	if !cfg.Platform.Broker.TLS {
		t.Error("Platform.Broker.TLS = false, want true")
	}
	if got := cfg.GetKeepAlive(); got != 15*time.Second {
		t.Errorf("GetKeepAlive() = %v, want 15s", got)
	}
	if cfg.Credentials.Backend != "bolt" {
		t.Errorf("Credentials.Backend = %q, want bolt", cfg.Credentials.Backend)
	}
	// Untouched sections keep their defaults.
	if cfg.Platform.GuestPrefix != "prefix" {
		t.Errorf("GuestPrefix = %q, want default %q", cfg.Platform.GuestPrefix, "prefix")
	}
	if !cfg.Platform.AutoRepairOnAuthFailure {
		t.Error("AutoRepairOnAuthFailure should default to true")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	// No realm anywhere.
	_, err := Load(writeConfig(t, "platform:\n  keepalive: 10\n"))
	if err == nil {
		t.Fatal("Load() expected validation error for missing realm, got nil")
	}
	if !strings.Contains(err.Error(), "platform.realm") {
		t.Errorf("error = %v, want mention of platform.realm", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid defaults with realm", func(_ *Config) {}, false},
		{"missing realm", func(c *Config) { c.Platform.Realm = "" }, true},
		{"realm with slash", func(c *Config) { c.Platform.Realm = "a/b" }, true},
		{"invalid gateway QoS", func(c *Config) { c.Gateway.MQTT.QoS = 3 }, true},
		{"wildcard base topic", func(c *Config) { c.Gateway.BaseTopic = "zigbee2mqtt/#" }, true},
		{"zero keepalive", func(c *Config) { c.Platform.KeepAlive = 0 }, true},
		{"platform port high", func(c *Config) { c.Platform.Broker.Port = 70000 }, true},
		{"unknown credentials backend", func(c *Config) { c.Credentials.Backend = "redis" }, true},
		{"bolt without path", func(c *Config) {
			c.Credentials.Backend = "bolt"
			c.Credentials.BoltPath = ""
		}, true},
		{"memory backend", func(c *Config) { c.Credentials.Backend = "memory" }, false},
		{"api port ignored when disabled", func(c *Config) {
			c.API.Enabled = false
			c.API.Port = 0
		}, false},
		{"api port invalid", func(c *Config) { c.API.Port = 0 }, true},
		{"jwt secret too short", func(c *Config) { c.API.Auth.JWTSecret = "short" }, true},
		{"influx enabled without url", func(c *Config) { c.InfluxDB.Enabled = true }, true},
		{"backoff max below initial", func(c *Config) {
			c.Zigbee.RestartBackoff.Initial = 10
			c.Zigbee.RestartBackoff.Max = 5
		}, true},
		{"zero concurrent init", func(c *Config) { c.Zigbee.MaxConcurrentInit = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Platform.Realm = "alice"
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		Platform: PlatformConfig{ConnectTimeout: 7},
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.Platform.GetConnectTimeout().Seconds(); got != 7 {
		t.Errorf("GetConnectTimeout() = %v, want 7", got)
	}
	if got := cfg.API.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.API.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.API.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("ZBRIDGE_GATEWAY_HOST", "gw.example.com")
	t.Setenv("ZBRIDGE_GATEWAY_PORT", "1885")
	t.Setenv("ZBRIDGE_PLATFORM_HOST", "platform.example.com")
	t.Setenv("ZBRIDGE_PLATFORM_PORT", "8883")
	t.Setenv("ZBRIDGE_PLATFORM_REALM", "bob")
	t.Setenv("ZBRIDGE_DATABASE_PATH", "/custom/path.db")
	t.Setenv("ZBRIDGE_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("ZBRIDGE_JWT_SECRET", "jwt-secret")
	t.Setenv("ZBRIDGE_LOG_LEVEL", "debug")

	applyEnvOverrides(cfg)

	if cfg.Gateway.MQTT.Broker.Host != "gw.example.com" {
		t.Errorf("Gateway host = %q, want %q", cfg.Gateway.MQTT.Broker.Host, "gw.example.com")
	}
	if cfg.Gateway.MQTT.Broker.Port != 1885 {
		t.Errorf("Gateway port = %d, want 1885", cfg.Gateway.MQTT.Broker.Port)
	}
	if cfg.Platform.Broker.Host != "platform.example.com" {
		t.Errorf("Platform host = %q, want %q", cfg.Platform.Broker.Host, "platform.example.com")
	}
	if cfg.Platform.Broker.Port != 8883 {
		t.Errorf("Platform port = %d, want 8883", cfg.Platform.Broker.Port)
	}
	if cfg.Platform.Realm != "bob" {
		t.Errorf("Realm = %q, want %q", cfg.Platform.Realm, "bob")
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.API.Auth.JWTSecret != "jwt-secret" {
		t.Errorf("JWTSecret = %q, want %q", cfg.API.Auth.JWTSecret, "jwt-secret")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestApplyEnvOverrides_Production(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"true", false},
		{"1", false},
		{"false", true},
		{"garbage", true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			cfg := defaultConfig()
			t.Setenv("ZBRIDGE_PRODUCTION", tt.value)
			applyEnvOverrides(cfg)
			if cfg.Platform.AutoRepairOnAuthFailure != tt.want {
				t.Errorf("AutoRepairOnAuthFailure = %v, want %v", cfg.Platform.AutoRepairOnAuthFailure, tt.want)
			}
		})
	}
}

func TestApplyEnvOverrides_BadPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("ZBRIDGE_PLATFORM_PORT", "not-a-port")
	applyEnvOverrides(cfg)
	if cfg.Platform.Broker.Port != 1883 {
		t.Errorf("Platform port = %d, want default 1883", cfg.Platform.Broker.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Gateway.BaseTopic != "zigbee2mqtt" {
		t.Errorf("BaseTopic = %q, want zigbee2mqtt", cfg.Gateway.BaseTopic)
	}
	if cfg.Platform.TopicVersion != "v2" {
		t.Errorf("TopicVersion = %q, want v2", cfg.Platform.TopicVersion)
	}
	if cfg.Platform.KeepAlive != 20 {
		t.Errorf("KeepAlive = %d, want 20", cfg.Platform.KeepAlive)
	}
	if cfg.Credentials.Backend != "sqlite" {
		t.Errorf("Credentials.Backend = %q, want sqlite", cfg.Credentials.Backend)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want 8080", cfg.API.Port)
	}
}
