package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the bridge daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Reactor   ReactorConfig   `yaml:"reactor"`
	Peers     []PeerConfig    `yaml:"peers"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Database  DatabaseConfig  `yaml:"database"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// ReactorConfig contains scheduler settings.
type ReactorConfig struct {
	// CycleInterval is the reactor cycle length in milliseconds. Default: 100
	CycleInterval int `yaml:"cycle_interval_ms"`
}

// PeerConfig describes one JSON-RPC peer.
type PeerConfig struct {
	// Name identifies the peer in topics, metrics and the journal.
	Name string `yaml:"name"`

	// Endpoint is a serial device path ("/dev/ttyUSB0", optionally
	// "/dev/ttyUSB0:115200") or a host name, optionally with ":port".
	Endpoint string `yaml:"endpoint"`

	// Port is used when Endpoint names a host without port.
	Port int `yaml:"port"`

	// BaudRate is used when Endpoint names a serial device without baud rate.
	// Default: 9600
	BaudRate int `yaml:"baud_rate"`

	// ReconnectInterval is the delay between reconnection attempts in seconds.
	// Default: 30
	ReconnectInterval int `yaml:"reconnect_interval"`

	// ReportAllErrors sends error replies for all malformed input.
	ReportAllErrors bool `yaml:"report_all_errors"`

	// SkipBanner ignores lines up to the first empty line after connecting.
	SkipBanner bool `yaml:"skip_banner"`

	Framing FramingConfig `yaml:"framing"`
}

// FramingConfig contains message framing settings.
type FramingConfig struct {
	// Mode is "delimiter" or "structural". Default: delimiter
	Mode string `yaml:"mode"`

	// Delimiter is the single-character message terminator. Default: "\n"
	Delimiter string `yaml:"delimiter"`

	TrimCR         bool `yaml:"trim_cr"`
	MaxMessageSize int  `yaml:"max_message_size"`
	MaxQueuedBytes int  `yaml:"max_queued_bytes"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`

	// RequestTimeout is how long a forwarded peer request waits for an
	// MQTT reply, in seconds. Default: 10
	RequestTimeout int `yaml:"request_timeout"`
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

// DatabaseConfig contains SQLite journal settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// TelemetryConfig contains link statistics reporting settings.
type TelemetryConfig struct {
	// Interval between statistics points in seconds. Default: 60
	Interval int `yaml:"interval"`
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
// Environment variables follow the pattern: BRIDGED_SECTION_KEY
// For example: BRIDGED_DATABASE_PATH, BRIDGED_MQTT_HOST
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
	cfg.applyPeerDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Bridged",
		},
		Reactor: ReactorConfig{
			CycleInterval: 100,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "bridged",
			},
			QoS:         1,
			TopicPrefix: "bridged",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			RequestTimeout: 10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Database: DatabaseConfig{
			Path:        "./data/bridged.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Telemetry: TelemetryConfig{
			Interval: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyPeerDefaults fills unset per-peer values. Peers come from a YAML
// list, so defaultConfig cannot preset them.
func (c *Config) applyPeerDefaults() {
	for i := range c.Peers {
		p := &c.Peers[i]
		if p.BaudRate == 0 {
			p.BaudRate = 9600
		}
		if p.ReconnectInterval == 0 {
			p.ReconnectInterval = 30
		}
		if p.Framing.Mode == "" {
			p.Framing.Mode = "delimiter"
		}
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: BRIDGED_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("BRIDGED_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("BRIDGED_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BRIDGED_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("BRIDGED_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BRIDGED_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("BRIDGED_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("BRIDGED_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Reactor.CycleInterval <= 0 {
		errs = append(errs, "reactor.cycle_interval_ms must be positive")
	}

	if len(c.Peers) == 0 {
		errs = append(errs, "at least one peer is required")
	}
	seen := make(map[string]bool, len(c.Peers))
	for i, p := range c.Peers {
		errs = append(errs, p.validate(i)...)
		if p.Name != "" {
			if seen[p.Name] {
				errs = append(errs, fmt.Sprintf("peers[%d].name %q is duplicated", i, p.Name))
			}
			seen[p.Name] = true
		}
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	if c.Telemetry.Interval <= 0 {
		errs = append(errs, "telemetry.interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (p PeerConfig) validate(i int) []string {
	var errs []string
	prefix := fmt.Sprintf("peers[%d]", i)

	if p.Name == "" {
		errs = append(errs, prefix+".name is required")
	} else if strings.ContainsAny(p.Name, "/+#") {
		errs = append(errs, prefix+".name must not contain MQTT wildcards or '/'")
	} else if p.Name == "system" {
		errs = append(errs, prefix+".name \"system\" is reserved")
	}
	if p.Endpoint == "" {
		errs = append(errs, prefix+".endpoint is required")
	}
	if p.Port < 0 || p.Port > 65535 {
		errs = append(errs, prefix+".port must be between 0 and 65535")
	}
	if p.ReconnectInterval < 0 {
		errs = append(errs, prefix+".reconnect_interval must not be negative")
	}
	switch p.Framing.Mode {
	case "", "delimiter", "structural":
	default:
		errs = append(errs, prefix+".framing.mode must be delimiter or structural")
	}
	if len(p.Framing.Delimiter) > 1 {
		errs = append(errs, prefix+".framing.delimiter must be a single character")
	}
	return errs
}

// GetCycleInterval returns the reactor cycle as a Duration.
func (c *Config) GetCycleInterval() time.Duration {
	return time.Duration(c.Reactor.CycleInterval) * time.Millisecond
}

// GetTelemetryInterval returns the statistics interval as a Duration.
func (c *Config) GetTelemetryInterval() time.Duration {
	return time.Duration(c.Telemetry.Interval) * time.Second
}

// GetRequestTimeout returns the MQTT reply timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.MQTT.RequestTimeout) * time.Second
}

// GetReconnectInterval returns the peer reconnect delay as a Duration.
func (p PeerConfig) GetReconnectInterval() time.Duration {
	return time.Duration(p.ReconnectInterval) * time.Second
}

// DelimiterByte returns the framing delimiter, or 0 for the default.
func (f FramingConfig) DelimiterByte() byte {
	if f.Delimiter == "" {
		return 0
	}
	return f.Delimiter[0]
}
