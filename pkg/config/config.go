package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	defaults "github.com/mcuadros/go-defaults"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/benvon/cometblue-bridge/pkg/retry"
)

// EnvPrefix is the prefix of environment variables overriding file settings
const EnvPrefix = "COMETBLUE"

// Config represents the complete application configuration
type Config struct {
	Bridge  BridgeConfig   `yaml:"bridge" mapstructure:"bridge"`
	Devices []DeviceConfig `yaml:"devices" mapstructure:"devices"`
	MQTT    MQTTConfig     `yaml:"mqtt" mapstructure:"mqtt"`
	Scanner ScannerConfig  `yaml:"scanner" mapstructure:"scanner"`
}

// BridgeConfig contains core application settings
type BridgeConfig struct {
	LogLevel     string        `yaml:"log_level" mapstructure:"log_level" default:"info"`
	LogFormat    string        `yaml:"log_format" mapstructure:"log_format" default:"console"`
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval" default:"5m"`
	RetryDelay   time.Duration `yaml:"retry_delay" mapstructure:"retry_delay" default:"1s"`
	HTTPPort     int           `yaml:"http_port" mapstructure:"http_port" default:"8080"`
	StateDB      string        `yaml:"state_db,omitempty" mapstructure:"state_db"`
}

// DeviceConfig describes one thermostat
type DeviceConfig struct {
	Address    string        `yaml:"address" mapstructure:"address"`
	Name       string        `yaml:"name,omitempty" mapstructure:"name"`
	PIN        uint32        `yaml:"pin" mapstructure:"pin"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout" default:"20s"`
	RetryCount int           `yaml:"retry_count" mapstructure:"retry_count" default:"3"`
}

// MQTTConfig contains the broker connection used for Home Assistant discovery
type MQTTConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	Broker          string `yaml:"broker" mapstructure:"broker" default:"tcp://localhost:1883"`
	ClientID        string `yaml:"client_id" mapstructure:"client_id" default:"cometblue-bridge"`
	Username        string `yaml:"username,omitempty" mapstructure:"username"`
	Password        string `yaml:"password,omitempty" mapstructure:"password"`
	DiscoveryPrefix string `yaml:"discovery_prefix" mapstructure:"discovery_prefix" default:"homeassistant"`
	TopicPrefix     string `yaml:"topic_prefix" mapstructure:"topic_prefix" default:"cometblue"`
}

// ScannerConfig controls the BLE presence scanner
type ScannerConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	PresenceWindow time.Duration `yaml:"presence_window" mapstructure:"presence_window" default:"5m"`
}

// envKeys are bound explicitly so they apply even when absent from the file
var envKeys = []string{
	"bridge.log_level",
	"bridge.log_format",
	"bridge.poll_interval",
	"bridge.retry_delay",
	"bridge.http_port",
	"bridge.state_db",
	"mqtt.enabled",
	"mqtt.broker",
	"mqtt.client_id",
	"mqtt.username",
	"mqtt.password",
	"mqtt.discovery_prefix",
	"mqtt.topic_prefix",
	"scanner.enabled",
	"scanner.presence_window",
}

var macAddress = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)

// LoadConfig loads configuration from a YAML file.
// ${VAR} and ${VAR:-default} are substituted before parsing and
// COMETBLUE_<SECTION>_<KEY> environment variables override file values.
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}

	if err := v.ReadConfig(bytes.NewReader([]byte(substituteEnvVars(string(data))))); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config := &Config{}
	defaults.SetDefaults(config)
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("decoding config file: %w", err)
	}

	setDefaults(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return config, nil
}

// substituteEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment variable values
func substituteEnvVars(content string) string {
	return os.Expand(content, func(key string) string {
		name, def, hasDefault := strings.Cut(key, ":-")
		if value, ok := os.LookupEnv(name); ok && value != "" {
			return value
		}
		if hasDefault {
			return def
		}
		return ""
	})
}

// setDefaults fills settings that were left empty in the file.
// Devices configured before timeout/retry_count existed get the defaults here.
func setDefaults(config *Config) {
	for i := range config.Devices {
		defaults.SetDefaults(&config.Devices[i])
		config.Devices[i].Address = strings.ToUpper(config.Devices[i].Address)
	}
	if config.Bridge.LogLevel == "" {
		config.Bridge.LogLevel = "info"
	}
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config.Bridge.PollInterval < 10*time.Second {
		return fmt.Errorf("poll_interval must be at least 10 seconds")
	}
	if config.Bridge.RetryDelay < 0 {
		return fmt.Errorf("retry_delay must not be negative")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[config.Bridge.LogLevel] {
		return fmt.Errorf("invalid log_level: %s, must be one of: debug, info, warn, error", config.Bridge.LogLevel)
	}
	if config.Bridge.LogFormat != "console" && config.Bridge.LogFormat != "json" {
		return fmt.Errorf("invalid log_format: %s, must be one of: console, json", config.Bridge.LogFormat)
	}

	if len(config.Devices) == 0 {
		return fmt.Errorf("at least one device must be configured")
	}

	seen := make(map[string]bool, len(config.Devices))
	for i, device := range config.Devices {
		if !macAddress.MatchString(device.Address) {
			return fmt.Errorf("devices[%d]: invalid address %q", i, device.Address)
		}
		if seen[device.Address] {
			return fmt.Errorf("devices[%d]: duplicate address %s", i, device.Address)
		}
		seen[device.Address] = true

		if device.RetryCount < 1 {
			return fmt.Errorf("devices[%d]: retry_count must be at least 1", i)
		}
		if device.Timeout <= 0 {
			return fmt.Errorf("devices[%d]: timeout must be positive", i)
		}
	}

	if config.MQTT.Enabled && config.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}

	return nil
}

// GetDeviceConfig returns the configuration for a specific address
func (c *Config) GetDeviceConfig(address string) (*DeviceConfig, error) {
	for i := range c.Devices {
		if strings.EqualFold(c.Devices[i].Address, address) {
			return &c.Devices[i], nil
		}
	}
	return nil, fmt.Errorf("device %s not found in configuration", address)
}

// RetryPolicy returns the retry policy of a device
func (c *Config) RetryPolicy(device DeviceConfig) retry.Config {
	policy := retry.DefaultConfig()
	policy.Attempts = device.RetryCount
	policy.Delay = c.Bridge.RetryDelay
	return policy
}

// DisplayName returns the configured name or a name derived from the address
func (d DeviceConfig) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return "Comet Blue " + d.Address
}

// ClientOptions builds paho client options for the broker
func (m *MQTTConfig) ClientOptions(logger *zap.SugaredLogger) *mqtt.ClientOptions {
	return mqtt.NewClientOptions().
		AddBroker(m.Broker).
		SetClientID(m.ClientID).
		SetUsername(m.Username).
		SetPassword(m.Password).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(client mqtt.Client, err error) {
			logger.Warnw("MQTT connection lost", "error", err)
		}).
		SetReconnectingHandler(func(client mqtt.Client, opts *mqtt.ClientOptions) {
			logger.Info("MQTT reconnecting")
		})
}

// CreateExampleConfig creates an example configuration file
func CreateExampleConfig(path string) error {
	config := Config{
		Bridge: BridgeConfig{
			LogLevel:     "info",
			LogFormat:    "console",
			PollInterval: 5 * time.Minute,
			RetryDelay:   time.Second,
			HTTPPort:     8080,
			StateDB:      "cometblue.db",
		},
		Devices: []DeviceConfig{
			{
				Address:    "E0:E5:CF:00:00:01",
				Name:       "Living Room",
				PIN:        0,
				Timeout:    20 * time.Second,
				RetryCount: 3,
			},
		},
		MQTT: MQTTConfig{
			Enabled:         true,
			Broker:          "tcp://localhost:1883",
			ClientID:        "cometblue-bridge",
			Username:        "${MQTT_USERNAME}",
			Password:        "${MQTT_PASSWORD}",
			DiscoveryPrefix: "homeassistant",
			TopicPrefix:     "cometblue",
		},
		Scanner: ScannerConfig{
			Enabled:        true,
			PresenceWindow: 5 * time.Minute,
		},
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling example config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing example config: %w", err)
	}

	return nil
}
