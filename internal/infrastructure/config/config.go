package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for ISY Shadow.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Controller ControllerConfig `yaml:"controller"`
	Stream     StreamConfig     `yaml:"stream"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	History    HistoryConfig    `yaml:"history"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ControllerConfig contains connection details for the ISY controller.
type ControllerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// WebRoot is an optional path prefix for controllers behind a
	// reverse proxy (e.g. "/isy"). Usually empty.
	WebRoot string `yaml:"web_root"`

	// RequestTimeout bounds individual REST requests, in seconds.
	RequestTimeout int `yaml:"request_timeout"`
}

// StreamConfig contains event stream settings.
type StreamConfig struct {
	// Transport selects the event stream transport: "websocket" or "tcp".
	// Older firmware only supports the TCP subscription socket.
	Transport string `yaml:"transport"`

	// HeartbeatInterval is the expected controller heartbeat period, in seconds.
	HeartbeatInterval int `yaml:"heartbeat_interval"`

	// HeartbeatGrace is the slack added to the heartbeat interval before
	// the watchdog declares the stream dead, in seconds.
	HeartbeatGrace int `yaml:"heartbeat_grace"`

	Reconnect ReconnectConfig `yaml:"reconnect"`

	// ReseedOnReconnect refetches the full snapshot after every reconnect
	// instead of trusting incremental events to reconcile drift.
	ReseedOnReconnect bool `yaml:"reseed_on_reconnect"`
}

// ReconnectConfig contains reconnection backoff settings.
type ReconnectConfig struct {
	// InitialDelay is the first backoff delay, in seconds.
	InitialDelay int `yaml:"initial_delay"`

	// MaxDelay caps the backoff delay, in seconds.
	MaxDelay int `yaml:"max_delay"`

	// MaxAttempts limits consecutive failed attempts before the
	// supervisor gives up and stays Degraded. 0 means unlimited.
	MaxAttempts int `yaml:"max_attempts"`
}

// MQTTConfig contains MQTT broker connection settings for the relay.
type MQTTConfig struct {
	Enabled bool             `yaml:"enabled"`
	Broker  MQTTBrokerConfig `yaml:"broker"`
	Auth    MQTTAuthConfig   `yaml:"auth"`
	QoS     int              `yaml:"qos"`
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

// HistoryConfig contains the SQLite status-transition journal settings.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`

	// RetentionDays is how long journal entries are kept before pruning.
	RetentionDays int `yaml:"retention_days"`
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
// Environment variables follow the pattern: ISYSHADOW_SECTION_KEY
// For example: ISYSHADOW_CONTROLLER_HOST, ISYSHADOW_MQTT_PASSWORD
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
		Controller: ControllerConfig{
			Host:           "localhost",
			Port:           80,
			RequestTimeout: 30,
		},
		Stream: StreamConfig{
			Transport:         "websocket",
			HeartbeatInterval: 30,
			HeartbeatGrace:    5,
			Reconnect: ReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "isyshadow",
			},
			QoS: 1,
		},
		History: HistoryConfig{
			Path:          "./data/isyshadow-history.db",
			RetentionDays: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ISYSHADOW_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Controller
	if v := os.Getenv("ISYSHADOW_CONTROLLER_HOST"); v != "" {
		cfg.Controller.Host = v
	}
	if v := os.Getenv("ISYSHADOW_CONTROLLER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Controller.Port = port
		}
	}
	if v := os.Getenv("ISYSHADOW_CONTROLLER_USERNAME"); v != "" {
		cfg.Controller.Username = v
	}
	if v := os.Getenv("ISYSHADOW_CONTROLLER_PASSWORD"); v != "" {
		cfg.Controller.Password = v
	}

	// Stream
	if v := os.Getenv("ISYSHADOW_STREAM_TRANSPORT"); v != "" {
		cfg.Stream.Transport = v
	}

	// MQTT
	if v := os.Getenv("ISYSHADOW_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ISYSHADOW_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ISYSHADOW_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("ISYSHADOW_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// History
	if v := os.Getenv("ISYSHADOW_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Controller.Host == "" {
		errs = append(errs, "controller.host is required")
	}
	if c.Controller.Port < 1 || c.Controller.Port > 65535 {
		errs = append(errs, "controller.port must be between 1 and 65535")
	}
	if c.Controller.Username == "" {
		errs = append(errs, "controller.username is required (set ISYSHADOW_CONTROLLER_USERNAME environment variable)")
	}
	if c.Controller.Password == "" {
		errs = append(errs, "controller.password is required (set ISYSHADOW_CONTROLLER_PASSWORD environment variable)")
	}

	switch c.Stream.Transport {
	case "websocket", "tcp":
	default:
		errs = append(errs, `stream.transport must be "websocket" or "tcp"`)
	}
	if c.Stream.HeartbeatInterval <= 0 {
		errs = append(errs, "stream.heartbeat_interval must be positive")
	}
	if c.Stream.Reconnect.InitialDelay <= 0 {
		errs = append(errs, "stream.reconnect.initial_delay must be positive")
	}
	if c.Stream.Reconnect.MaxDelay < c.Stream.Reconnect.InitialDelay {
		errs = append(errs, "stream.reconnect.max_delay must be >= initial_delay")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, "history.path is required when history is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// HeartbeatInterval returns the expected heartbeat period as a Duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Stream.HeartbeatInterval) * time.Second
}

// HeartbeatGrace returns the watchdog grace period as a Duration.
func (c *Config) HeartbeatGrace() time.Duration {
	return time.Duration(c.Stream.HeartbeatGrace) * time.Second
}

// RequestTimeout returns the REST request timeout as a Duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Controller.RequestTimeout) * time.Second
}

// ReconnectInitialDelay returns the first backoff delay as a Duration.
func (c *Config) ReconnectInitialDelay() time.Duration {
	return time.Duration(c.Stream.Reconnect.InitialDelay) * time.Second
}

// ReconnectMaxDelay returns the backoff cap as a Duration.
func (c *Config) ReconnectMaxDelay() time.Duration {
	return time.Duration(c.Stream.Reconnect.MaxDelay) * time.Second
}
