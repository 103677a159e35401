package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the locshare daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Session   SessionConfig   `yaml:"session"`
	Backend   BackendConfig   `yaml:"backend"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Sharing   SharingConfig   `yaml:"sharing"`
	Proximity ProximityConfig `yaml:"proximity"`
	Reporter  ReporterConfig  `yaml:"reporter"`
}

// DeviceConfig identifies the handset the daemon runs beside.
type DeviceConfig struct {
	// ID is the device identifier used in platform bridge topics.
	ID string `yaml:"id"`

	// Platform selects the permission model: "android", "ios" or "web".
	Platform string `yaml:"platform"`
}

// SessionConfig holds the signed-in user's backend session.
type SessionConfig struct {
	// Token is the bearer token issued by the backend's auth service.
	Token string `yaml:"token"`

	// UserID overrides the subject claim of Token when set.
	UserID string `yaml:"user_id"`
}

// BackendConfig contains REST backend settings.
type BackendConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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
}

// APIConfig contains local HTTP API server settings.
type APIConfig struct {
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

// SharingConfig tunes the location-sharing controller and its collaborators.
type SharingConfig struct {
	// ProbeInterval is how often the system location monitor probes while sharing.
	ProbeInterval time.Duration `yaml:"probe_interval"`

	// ProbeTimeout bounds a single availability probe.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// FirstFixTimeout bounds the coarse "first paint" fix on stream activation.
	FirstFixTimeout time.Duration `yaml:"first_fix_timeout"`

	// WatchInterval is the requested interval of the continuous fix stream.
	WatchInterval time.Duration `yaml:"watch_interval"`

	// WatchDistanceMeters is the minimum displacement filter of the stream.
	WatchDistanceMeters float64 `yaml:"watch_distance_meters"`

	// OpTimeout bounds each side effect of a transition (service, presence, store).
	OpTimeout time.Duration `yaml:"op_timeout"`
}

// ProximityConfig tunes the nearby-users feed.
type ProximityConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	Radii           []int         `yaml:"radii"`
	DefaultRadius   int           `yaml:"default_radius"`
	ResultLimit     int           `yaml:"result_limit"`
}

// ReporterConfig configures the background reporting child process.
type ReporterConfig struct {
	// Binary is the executable launched for the reporting service.
	// Empty means the running daemon's own executable.
	Binary string `yaml:"binary"`

	// Interval is how often the child uploads the device position.
	Interval time.Duration `yaml:"interval"`

	// FixTimeout bounds each position fix taken by the child.
	FixTimeout time.Duration `yaml:"fix_timeout"`

	RestartDelay       time.Duration `yaml:"restart_delay"`
	MaxRestartAttempts int           `yaml:"max_restart_attempts"`
	GracefulTimeout    time.Duration `yaml:"graceful_timeout"`

	// UploadsPerMinute caps location uploads regardless of Interval. 0 disables the cap.
	UploadsPerMinute int `yaml:"uploads_per_minute"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: LOCSHARE_SECTION_KEY
// For example: LOCSHARE_DATABASE_PATH, LOCSHARE_SESSION_TOKEN
func Load(path string) (*Config, error) {
	cfg := Default()

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

// Default returns a Config populated with product defaults.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			ID:       "device-001",
			Platform: PlatformAndroid,
		},
		Backend: BackendConfig{
			Timeout:           10 * time.Second,
			RequestsPerSecond: 5,
			Burst:             5,
		},
		Database: DatabaseConfig{
			Path:        "./data/locshare.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "locshare-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8470,
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
		Sharing: SharingConfig{
			ProbeInterval:       3 * time.Second,
			ProbeTimeout:        4 * time.Second,
			FirstFixTimeout:     10 * time.Second,
			WatchInterval:       time.Second,
			WatchDistanceMeters: 1,
			OpTimeout:           10 * time.Second,
		},
		Proximity: ProximityConfig{
			RefreshInterval: 10 * time.Second,
			Radii:           []int{20, 100, 500, 1000, 5000},
			DefaultRadius:   500,
			ResultLimit:     100,
		},
		Reporter: ReporterConfig{
			Interval:           15 * time.Second,
			FixTimeout:         10 * time.Second,
			RestartDelay:       5 * time.Second,
			MaxRestartAttempts: 10,
			GracefulTimeout:    5 * time.Second,
			UploadsPerMinute:   12,
		},
	}
}

// Supported device platforms.
const (
	PlatformAndroid = "android"
	PlatformIOS     = "ios"
	PlatformWeb     = "web"
)

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: LOCSHARE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOCSHARE_DEVICE_ID"); v != "" {
		cfg.Device.ID = v
	}
	if v := os.Getenv("LOCSHARE_DEVICE_PLATFORM"); v != "" {
		cfg.Device.Platform = v
	}

	// Session token is never expected in the YAML file in production.
	if v := os.Getenv("LOCSHARE_SESSION_TOKEN"); v != "" {
		cfg.Session.Token = v
	}
	if v := os.Getenv("LOCSHARE_SESSION_USER_ID"); v != "" {
		cfg.Session.UserID = v
	}

	if v := os.Getenv("LOCSHARE_BACKEND_BASE_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}

	if v := os.Getenv("LOCSHARE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("LOCSHARE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("LOCSHARE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("LOCSHARE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("LOCSHARE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("LOCSHARE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("LOCSHARE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("LOCSHARE_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Device.ID == "" {
		errs = append(errs, "device.id is required")
	}
	switch c.Device.Platform {
	case PlatformAndroid, PlatformIOS, PlatformWeb:
	default:
		errs = append(errs, fmt.Sprintf("device.platform must be one of android, ios, web (got %q)", c.Device.Platform))
	}

	if c.Session.Token == "" {
		errs = append(errs, "session.token is required (set LOCSHARE_SESSION_TOKEN environment variable)")
	}

	if c.Backend.BaseURL == "" {
		errs = append(errs, "backend.base_url is required")
	}
	if c.Backend.RequestsPerSecond <= 0 {
		errs = append(errs, "backend.requests_per_second must be positive")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Sharing.ProbeInterval <= 0 {
		errs = append(errs, "sharing.probe_interval must be positive")
	}
	if c.Sharing.ProbeTimeout <= 0 {
		errs = append(errs, "sharing.probe_timeout must be positive")
	}

	if c.Proximity.RefreshInterval <= 0 {
		errs = append(errs, "proximity.refresh_interval must be positive")
	}
	if len(c.Proximity.Radii) == 0 {
		errs = append(errs, "proximity.radii must not be empty")
	}
	for _, r := range c.Proximity.Radii {
		if r <= 0 {
			errs = append(errs, fmt.Sprintf("proximity.radii contains non-positive radius %d", r))
		}
	}
	if !slices.Contains(c.Proximity.Radii, c.Proximity.DefaultRadius) {
		errs = append(errs, fmt.Sprintf("proximity.default_radius %d is not one of proximity.radii", c.Proximity.DefaultRadius))
	}
	if c.Proximity.ResultLimit < 1 {
		errs = append(errs, "proximity.result_limit must be at least 1")
	}

	if c.Reporter.Interval <= 0 {
		errs = append(errs, "reporter.interval must be positive")
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
