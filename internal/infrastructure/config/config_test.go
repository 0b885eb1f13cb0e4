package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
settings:
  port: 9090
  command_delay_ms: 250
  watch_config: false
mqtt:
  enabled: true
  broker:
    host: "broker.local"
    port: 1883
  qos: 1
sessions:
  engine: browser
  connect_timeout: 15s
liveness:
  interval: 45s
cameras:
  - name: Camera A
    url: http://10.0.0.1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Settings.Port != 9090 {
		t.Errorf("Settings.Port = %d, want 9090", cfg.Settings.Port)
	}
	if cfg.WatchEnabled() {
		t.Error("WatchEnabled() = true, want false")
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.Sessions.Engine != EngineBrowser {
		t.Errorf("Sessions.Engine = %q, want %q", cfg.Sessions.Engine, EngineBrowser)
	}
	if cfg.Sessions.ConnectTimeout != 15*time.Second {
		t.Errorf("Sessions.ConnectTimeout = %v, want 15s", cfg.Sessions.ConnectTimeout)
	}
	if cfg.Sessions.ProbeTimeout != 5*time.Second {
		t.Errorf("Sessions.ProbeTimeout = %v, want default 5s", cfg.Sessions.ProbeTimeout)
	}
	if cfg.Liveness.Interval != 45*time.Second {
		t.Errorf("Liveness.Interval = %v, want 45s", cfg.Liveness.Interval)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
sessions:
  engine: carrier-pigeon
`)

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected validation error for unknown engine, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	validJWTSecret := "test-secret-key-at-least-32-chars!"

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "valid JWT secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = validJWTSecret },
			wantErr: false,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "invalid port low",
			mutate:  func(c *Config) { c.Settings.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port high",
			mutate:  func(c *Config) { c.Settings.Port = 70000 },
			wantErr: true,
		},
		{
			name: "mqtt enabled without prefix",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.TopicPrefix = ""
			},
			wantErr: true,
		},
		{
			name:    "zero connect timeout",
			mutate:  func(c *Config) { c.Sessions.ConnectTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero liveness interval",
			mutate:  func(c *Config) { c.Liveness.Interval = 0 },
			wantErr: true,
		},
		{
			name:    "zero websocket ping interval",
			mutate:  func(c *Config) { c.WebSocket.PingInterval = 0 },
			wantErr: true,
		},
		{
			name:    "JWT secret too short",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "short" },
			wantErr: true,
		},
		{
			name:    "engine case insensitive",
			mutate:  func(c *Config) { c.Sessions.Engine = "HTTP" },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAPITimeoutConfig_Durations(t *testing.T) {
	to := APITimeoutConfig{Read: 30, Write: 45, Idle: 60}

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"read", to.ReadTimeout(), 30 * time.Second},
		{"write", to.WriteTimeout(), 45 * time.Second},
		{"idle", to.IdleTimeout(), 60 * time.Second},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s timeout = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("MULTICAM_API_HOST", "192.168.1.1")
	t.Setenv("MULTICAM_PORT", "9191")
	t.Setenv("MULTICAM_MQTT_HOST", "mqtt.example.com")
	t.Setenv("MULTICAM_MQTT_USERNAME", "testuser")
	t.Setenv("MULTICAM_MQTT_PASSWORD", "testpass")
	t.Setenv("MULTICAM_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}
	if cfg.Settings.Port != 9191 {
		t.Errorf("Settings.Port = %d, want 9191", cfg.Settings.Port)
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.Security.JWT.Secret != "jwt-secret" {
		t.Errorf("Security.JWT.Secret = %q, want %q", cfg.Security.JWT.Secret, "jwt-secret")
	}
}

func TestApplyEnvOverrides_InvalidPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("MULTICAM_PORT", "not-a-port")

	applyEnvOverrides(cfg)

	if cfg.Settings.Port != 8080 {
		t.Errorf("Settings.Port = %d, want 8080", cfg.Settings.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Settings.Port != 8080 {
		t.Errorf("defaultConfig Settings.Port = %d, want 8080", cfg.Settings.Port)
	}
	if cfg.Sessions.Engine != EngineHTTP {
		t.Errorf("defaultConfig Sessions.Engine = %q, want %q", cfg.Sessions.Engine, EngineHTTP)
	}
	if cfg.Sessions.ConnectTimeout != 10*time.Second {
		t.Errorf("defaultConfig Sessions.ConnectTimeout = %v, want 10s", cfg.Sessions.ConnectTimeout)
	}
	if cfg.Liveness.Interval != 30*time.Second {
		t.Errorf("defaultConfig Liveness.Interval = %v, want 30s", cfg.Liveness.Interval)
	}
	if !cfg.WatchEnabled() {
		t.Error("defaultConfig should watch the config file")
	}
}
