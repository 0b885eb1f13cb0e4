package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for MultiCam Core.
//
// The same YAML file also carries the camera and button lists. Those are
// parsed separately by the fleet package so that a malformed camera entry
// never prevents the process from starting.
type Config struct {
	Settings  SettingsConfig  `yaml:"settings"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Logging   LoggingConfig   `yaml:"logging"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Liveness  LivenessConfig  `yaml:"liveness"`
	Security  SecurityConfig  `yaml:"security"`
}

// SettingsConfig contains the global settings shared with the device config.
// Only the fields the process itself needs are decoded here; the fleet
// package reads command_delay_ms and auth from the same section.
type SettingsConfig struct {
	Port int `yaml:"port"`

	// WatchConfig enables automatic registry reload when the file changes.
	// A pointer so an explicit false survives the defaults merge.
	WatchConfig *bool `yaml:"watch_config"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
//
// Write must exceed the longest expected dispatch: a batch of N cameras with
// pacing and per-device timeouts can take a while.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
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

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SessionsConfig controls how camera sessions are opened and probed.
type SessionsConfig struct {
	// Engine selects the session implementation: "http" (authenticated HTTP
	// client) or "browser" (a Chrome tab per camera driven over CDP).
	Engine string `yaml:"engine"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// InsecureSkipVerify accepts self-signed camera certificates.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`

	Browser BrowserConfig `yaml:"browser"`
}

// BrowserConfig contains settings for the browser session engine.
type BrowserConfig struct {
	Headless bool   `yaml:"headless"`
	ExecPath string `yaml:"exec_path"`
}

// LivenessConfig controls the periodic session probe.
type LivenessConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
// When Secret is empty the API accepts unauthenticated commands, which is
// only reasonable on an isolated production network.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Session engine names.
const (
	EngineHTTP    = "http"
	EngineBrowser = "browser"
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MULTICAM_SECTION_KEY
// For example: MULTICAM_API_HOST, MULTICAM_MQTT_PASSWORD
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
		Settings: SettingsConfig{
			Port: 8080,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 120,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "multicam-core",
			},
			QoS:         1,
			TopicPrefix: "multicam",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Sessions: SessionsConfig{
			Engine:         EngineHTTP,
			ConnectTimeout: 10 * time.Second,
			ProbeTimeout:   5 * time.Second,
			CommandTimeout: 3 * time.Second,
			Browser: BrowserConfig{
				Headless: true,
			},
		},
		Liveness: LivenessConfig{
			Interval: 30 * time.Second,
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MULTICAM_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// API
	if v := os.Getenv("MULTICAM_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("MULTICAM_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Settings.Port = port
		}
	}

	// MQTT
	if v := os.Getenv("MULTICAM_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MULTICAM_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MULTICAM_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Security
	if v := os.Getenv("MULTICAM_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Settings.Port < 1 || c.Settings.Port > 65535 {
		errs = append(errs, "settings.port must be between 1 and 65535")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	switch strings.ToLower(c.Sessions.Engine) {
	case EngineHTTP, EngineBrowser:
	default:
		errs = append(errs, fmt.Sprintf("sessions.engine must be %q or %q", EngineHTTP, EngineBrowser))
	}

	if c.Sessions.ConnectTimeout <= 0 {
		errs = append(errs, "sessions.connect_timeout must be positive")
	}
	if c.Sessions.ProbeTimeout <= 0 {
		errs = append(errs, "sessions.probe_timeout must be positive")
	}
	if c.Sessions.CommandTimeout <= 0 {
		errs = append(errs, "sessions.command_timeout must be positive")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.PongTimeout <= 0 {
		errs = append(errs, "websocket.ping_interval and websocket.pong_timeout must be positive")
	}
	if c.Liveness.Interval <= 0 {
		errs = append(errs, "liveness.interval must be positive")
	}

	// An empty secret disables API auth; a short one is a mistake.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// WatchEnabled reports whether the config file should be watched for changes.
func (c *Config) WatchEnabled() bool {
	if c.Settings.WatchConfig == nil {
		return true
	}
	return *c.Settings.WatchConfig
}

// ReadTimeout returns the request read timeout. It also bounds header reads.
func (t APITimeoutConfig) ReadTimeout() time.Duration {
	return time.Duration(t.Read) * time.Second
}

// WriteTimeout returns the response write timeout.
func (t APITimeoutConfig) WriteTimeout() time.Duration {
	return time.Duration(t.Write) * time.Second
}

// IdleTimeout returns the keep-alive idle timeout.
func (t APITimeoutConfig) IdleTimeout() time.Duration {
	return time.Duration(t.Idle) * time.Second
}
