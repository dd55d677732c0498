package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Disconnect-all accounting policies accepted in bluetooth.disconnect_all_policy.
const (
	// DisconnectPolicyPerDevice removes every device whose cancel succeeded,
	// even when other cancels in the same fan-out failed.
	DisconnectPolicyPerDevice = "per_device"

	// DisconnectPolicyAllOrNothing clears the connected set only when every
	// cancel in the fan-out succeeded.
	DisconnectPolicyAllOrNothing = "all_or_nothing"
)

// HeadlessAccessoryID is the hardware address of the light-control
// accessory that advertises without a local name.
const HeadlessAccessoryID = "B8:27:EB:80:3B:99"

// Config is the root configuration structure for the BLE link manager.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Bluetooth BluetoothConfig `yaml:"bluetooth"`
	Security  SecurityConfig  `yaml:"security"`
}

// SiteConfig identifies the installation this daemon runs in.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// AuditRetentionDays bounds the command audit trail. Zero keeps
	// entries forever.
	AuditRetentionDays int `yaml:"audit_retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
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

// BluetoothConfig contains radio and link-management settings.
type BluetoothConfig struct {
	// Adapter is the BlueZ adapter name used for power-state monitoring.
	Adapter string `yaml:"adapter"`

	// AllowList holds device IDs accepted from scans even when they
	// advertise without a local name.
	AllowList []string `yaml:"allow_list"`

	// SavedListKey is the key the saved-device list is stored under.
	SavedListKey string `yaml:"saved_list_key"`

	AutoPair AutoPairConfig `yaml:"auto_pair"`
	Connect  ConnectConfig  `yaml:"connect"`

	// DisconnectAllPolicy is "per_device" or "all_or_nothing".
	DisconnectAllPolicy string `yaml:"disconnect_all_policy"`

	// DisconnectOnShutdown cancels every link when the daemon stops.
	DisconnectOnShutdown bool `yaml:"disconnect_on_shutdown"`

	// HealthInterval is how often bridge health is published (seconds).
	HealthInterval int `yaml:"health_interval"`
}

// AutoPairConfig controls the automatic reconnection rounds.
type AutoPairConfig struct {
	// OnPowerOn starts a round whenever the adapter reports powered on.
	OnPowerOn bool `yaml:"on_power_on"`

	// RoundTimeout bounds a single round (seconds).
	RoundTimeout int `yaml:"round_timeout"`
}

// ConnectConfig paces outgoing connection attempts.
type ConnectConfig struct {
	// Rate is the sustained number of connect attempts per second.
	Rate float64 `yaml:"rate"`

	// Burst is the number of attempts allowed back-to-back.
	Burst int `yaml:"burst"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_BLUETOOTH_ADAPTER
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
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Database: DatabaseConfig{
			Path:               "./data/graylogic-ble.db",
			WALMode:            true,
			BusyTimeout:        5,
			AuditRetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-ble",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Bluetooth: BluetoothConfig{
			Adapter:      "hci0",
			AllowList:    []string{HeadlessAccessoryID},
			SavedListKey: "SAVED_LIST",
			AutoPair: AutoPairConfig{
				OnPowerOn:    true,
				RoundTimeout: 30,
			},
			Connect: ConnectConfig{
				Rate:  2,
				Burst: 4,
			},
			DisconnectAllPolicy:  DisconnectPolicyPerDevice,
			DisconnectOnShutdown: true,
			HealthInterval:       30,
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("GRAYLOGIC_BLUETOOTH_ADAPTER"); v != "" {
		cfg.Bluetooth.Adapter = v
	}

	// Always override the JWT secret from the environment in production.
	if v := os.Getenv("GRAYLOGIC_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.AuditRetentionDays < 0 {
		errs = append(errs, "database.audit_retention_days must not be negative")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	errs = append(errs, c.Bluetooth.validate()...)

	// Anyone holding a forged token could drop every link in the building.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set GRAYLOGIC_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (b BluetoothConfig) validate() []string {
	var errs []string

	if b.SavedListKey == "" {
		errs = append(errs, "bluetooth.saved_list_key is required")
	}
	if b.AutoPair.RoundTimeout <= 0 {
		errs = append(errs, "bluetooth.auto_pair.round_timeout must be positive")
	}
	if b.Connect.Rate < 0 {
		errs = append(errs, "bluetooth.connect.rate must not be negative")
	}
	if b.Connect.Burst < 0 {
		errs = append(errs, "bluetooth.connect.burst must not be negative")
	}
	switch b.DisconnectAllPolicy {
	case DisconnectPolicyPerDevice, DisconnectPolicyAllOrNothing:
	default:
		errs = append(errs, fmt.Sprintf("bluetooth.disconnect_all_policy must be %q or %q",
			DisconnectPolicyPerDevice, DisconnectPolicyAllOrNothing))
	}
	for _, id := range b.AllowList {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, "bluetooth.allow_list must not contain empty entries")
			break
		}
	}

	return errs
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

// GetRoundTimeout returns the auto-pairing round timeout as a Duration.
func (c *Config) GetRoundTimeout() time.Duration {
	return time.Duration(c.Bluetooth.AutoPair.RoundTimeout) * time.Second
}

// GetAuditRetention returns how long audit entries are kept, or zero to
// keep them forever.
func (c *Config) GetAuditRetention() time.Duration {
	return time.Duration(c.Database.AuditRetentionDays) * 24 * time.Hour
}

// GetHealthInterval returns the bridge health publish interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bluetooth.HealthInterval) * time.Second
}
