package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
device:
  id: "pixel-7"
  platform: "android"
session:
  token: "test-token"
backend:
  base_url: "https://api.example.test"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
sharing:
  probe_interval: 2s
proximity:
  radii: [20, 100]
  default_radius: 20
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.ID != "pixel-7" {
		t.Errorf("Device.ID = %q, want %q", cfg.Device.ID, "pixel-7")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.Sharing.ProbeInterval != 2*time.Second {
		t.Errorf("Sharing.ProbeInterval = %v, want %v", cfg.Sharing.ProbeInterval, 2*time.Second)
	}
	if cfg.Proximity.DefaultRadius != 20 {
		t.Errorf("Proximity.DefaultRadius = %d, want 20", cfg.Proximity.DefaultRadius)
	}
	// Untouched sections keep their defaults.
	if cfg.Proximity.RefreshInterval != 10*time.Second {
		t.Errorf("Proximity.RefreshInterval = %v, want %v", cfg.Proximity.RefreshInterval, 10*time.Second)
	}
	if cfg.Proximity.ResultLimit != 100 {
		t.Errorf("Proximity.ResultLimit = %d, want 100", cfg.Proximity.ResultLimit)
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
	content := `
device:
  id: ""
backend:
  base_url: "https://api.example.test"
`
	t.Setenv("LOCSHARE_SESSION_TOKEN", "tok")
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error for empty device.id, got nil")
	}
	if !strings.Contains(err.Error(), "device.id is required") {
		t.Errorf("Load() error = %v, want mention of device.id", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LOCSHARE_SESSION_TOKEN", "env-token")
	t.Setenv("LOCSHARE_DATABASE_PATH", "/var/lib/locshare/state.db")
	t.Setenv("LOCSHARE_MQTT_PORT", "8883")
	t.Setenv("LOCSHARE_DEVICE_PLATFORM", "ios")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Session.Token != "env-token" {
		t.Errorf("Session.Token = %q, want %q", cfg.Session.Token, "env-token")
	}
	if cfg.Database.Path != "/var/lib/locshare/state.db" {
		t.Errorf("Database.Path = %q, want env override", cfg.Database.Path)
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}
	if cfg.Device.Platform != PlatformIOS {
		t.Errorf("Device.Platform = %q, want %q", cfg.Device.Platform, PlatformIOS)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Session.Token = "tok"
		cfg.Backend.BaseURL = "https://api.example.test"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid defaults", mutate: func(*Config) {}, wantErr: false},
		{name: "missing device id", mutate: func(c *Config) { c.Device.ID = "" }, wantErr: true},
		{name: "unknown platform", mutate: func(c *Config) { c.Device.Platform = "symbian" }, wantErr: true},
		{name: "missing token", mutate: func(c *Config) { c.Session.Token = "" }, wantErr: true},
		{name: "missing backend", mutate: func(c *Config) { c.Backend.BaseURL = "" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "invalid port", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: true},
		{name: "zero probe interval", mutate: func(c *Config) { c.Sharing.ProbeInterval = 0 }, wantErr: true},
		{name: "empty radii", mutate: func(c *Config) { c.Proximity.Radii = nil }, wantErr: true},
		{name: "negative radius", mutate: func(c *Config) { c.Proximity.Radii = []int{-5, 500} }, wantErr: true},
		{name: "default radius not offered", mutate: func(c *Config) { c.Proximity.DefaultRadius = 42 }, wantErr: true},
		{name: "zero result limit", mutate: func(c *Config) { c.Proximity.ResultLimit = 0 }, wantErr: true},
		{name: "zero reporter interval", mutate: func(c *Config) { c.Reporter.Interval = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Timeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{Read: 30, Write: 45, Idle: 120},
		},
	}

	if got := cfg.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want %v", got, 30*time.Second)
	}
	if got := cfg.GetWriteTimeout(); got != 45*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want %v", got, 45*time.Second)
	}
	if got := cfg.GetIdleTimeout(); got != 120*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want %v", got, 120*time.Second)
	}
}
