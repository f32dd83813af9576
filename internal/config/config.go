// Package config loads node configuration from YAML with environment
// overrides.
//
// Precedence, lowest first: built-in defaults, the YAML file, THERMO_NODE_*
// environment variables. Command-line flags are applied by the caller on
// top of the result.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/thermo-node/internal/onewire"
)

// Config is the complete node configuration.
type Config struct {
	MQTT    MQTTConfig    `yaml:"mqtt"`
	OneWire OneWireConfig `yaml:"onewire"`
	Link    LinkConfig    `yaml:"link"`
	LED     LEDConfig     `yaml:"led"`
	HTTP    HTTPConfig    `yaml:"http"`
	Influx  InfluxConfig  `yaml:"influx"`
	Logging LoggingConfig `yaml:"logging"`
}

// MQTTConfig configures the broker session.
type MQTTConfig struct {
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// OneWireConfig configures the sensor bus and sampling cycle.
type OneWireConfig struct {
	Enabled        bool          `yaml:"enabled"`
	MasterID       int           `yaml:"master_id"`
	MaxDevices     int           `yaml:"max_devices"`
	ResolutionBits int           `yaml:"resolution_bits"`
	PreDelay       time.Duration `yaml:"pre_delay"`
	Settle         time.Duration `yaml:"settle"`
	UpdateInterval time.Duration `yaml:"update_interval"`
}

// LinkConfig configures connectivity supervision.
type LinkConfig struct {
	Interface      string        `yaml:"interface"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
	ConnectCommand string        `yaml:"connect_command"`
}

// LEDConfig configures the indicator output.
type LEDConfig struct {
	Chip     string        `yaml:"chip"`
	Line     int           `yaml:"line"`
	OnPhase  time.Duration `yaml:"on_phase"`
	OffPhase time.Duration `yaml:"off_phase"`
}

// HTTPConfig configures the status server. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// InfluxConfig configures the optional time-series mirror.
type InfluxConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Token         string        `yaml:"token"`
	Org           string        `yaml:"org"`
	Bucket        string        `yaml:"bucket"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// LoggingConfig selects log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker:         "tcp://localhost:1883",
			TopicPrefix:    "thermo-node",
			ConnectTimeout: 10 * time.Second,
			PublishTimeout: 5 * time.Second,
		},
		OneWire: OneWireConfig{
			Enabled:        true,
			MasterID:       0,
			MaxDevices:     8,
			ResolutionBits: 12,
			PreDelay:       200 * time.Millisecond,
			Settle:         800 * time.Millisecond,
			UpdateInterval: 10 * time.Second,
		},
		Link: LinkConfig{
			Interface:      "wlan0",
			ReconnectDelay: 5 * time.Second,
			ProbeInterval:  2 * time.Second,
		},
		LED: LEDConfig{
			Chip:     "gpiochip0",
			Line:     2,
			OnPhase:  100 * time.Millisecond,
			OffPhase: 900 * time.Millisecond,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Influx: InfluxConfig{
			URL:           "http://localhost:8086",
			BatchSize:     50,
			FlushInterval: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path (skipped when empty), applies environment overrides,
// fills in a client ID and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = NewClientID()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// NewClientID returns "thermo-node-" plus eight random hex characters.
func NewClientID() string {
	return "thermo-node-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("THERMO_NODE_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("THERMO_NODE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("THERMO_NODE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("THERMO_NODE_TOPIC_PREFIX"); v != "" {
		cfg.MQTT.TopicPrefix = v
	}
	if v := os.Getenv("THERMO_NODE_INFLUX_TOKEN"); v != "" {
		cfg.Influx.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.MQTT.Broker == "" {
		errs = append(errs, "mqtt.broker is required")
	}
	if strings.Trim(c.MQTT.TopicPrefix, "/") == "" {
		errs = append(errs, "mqtt.topic_prefix is required")
	}
	if strings.ContainsAny(c.MQTT.TopicPrefix, "#+") {
		errs = append(errs, "mqtt.topic_prefix must not contain wildcards")
	}

	if c.OneWire.Enabled {
		w := c.OneWire
		if w.ResolutionBits < 9 || w.ResolutionBits > 12 {
			errs = append(errs, "onewire.resolution_bits must be between 9 and 12")
		} else if w.Settle < onewire.ConversionTime(w.ResolutionBits) {
			errs = append(errs, fmt.Sprintf("onewire.settle must be at least %v at %d-bit resolution",
				onewire.ConversionTime(w.ResolutionBits), w.ResolutionBits))
		}
		if w.UpdateInterval <= 0 {
			errs = append(errs, "onewire.update_interval must be positive")
		}
		if w.MaxDevices < 1 || w.MaxDevices > 128 {
			errs = append(errs, "onewire.max_devices must be between 1 and 128")
		}
		if w.PreDelay < 0 {
			errs = append(errs, "onewire.pre_delay must not be negative")
		}
	}

	if strings.TrimSpace(c.Link.Interface) == "" {
		errs = append(errs, "link.interface is required")
	}
	if c.Link.ConnectCommand != "" && strings.TrimSpace(c.Link.ConnectCommand) == "" {
		errs = append(errs, "link.connect_command must not be blank")
	}
	if c.Link.ReconnectDelay <= 0 {
		errs = append(errs, "link.reconnect_delay must be positive")
	}

	if c.LED.OnPhase <= 0 || c.LED.OffPhase <= 0 {
		errs = append(errs, "led.on_phase and led.off_phase must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "logging.level must be debug, info, warn or error")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, "logging.format must be text or json")
	}

	if c.Influx.Enabled && (c.Influx.URL == "" || c.Influx.Bucket == "") {
		errs = append(errs, "influx.url and influx.bucket are required when influx is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
