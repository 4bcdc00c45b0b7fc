package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"pinlink/device"
	"pinlink/serial"
)

// EnvPrefix prefixes every environment override, e.g. PINLINK_DEVICE_PORT
const EnvPrefix = "PINLINK"

// Config is the root configuration structure
type Config struct {
	App        AppConfig        `json:"app" mapstructure:"app"`
	Device     DeviceConfig     `json:"device" mapstructure:"device"`
	Handshake  HandshakeConfig  `json:"handshake" mapstructure:"handshake"`
	Logging    LoggingConfig    `json:"logging" mapstructure:"logging"`
	Monitoring MonitoringConfig `json:"monitoring" mapstructure:"monitoring"`
	Slack      SlackConfig      `json:"slack" mapstructure:"slack"`
}

// AppConfig contains application metadata
type AppConfig struct {
	Name       string `json:"name" mapstructure:"name"`
	InstanceID string `json:"instance_id" mapstructure:"instance_id"`
}

// DeviceConfig describes the serial link to the board. An empty Port means
// the port is discovered at startup.
type DeviceConfig struct {
	Port        string `json:"port" mapstructure:"port"`
	BaudRate    int    `json:"baud_rate" mapstructure:"baud_rate"`
	DataBits    int    `json:"data_bits" mapstructure:"data_bits"`
	StopBits    int    `json:"stop_bits" mapstructure:"stop_bits"`
	Parity      string `json:"parity" mapstructure:"parity"`
	FlowControl string `json:"flow_control" mapstructure:"flow_control"`
	BufferSize  int    `json:"buffer_size" mapstructure:"buffer_size"`
}

// HandshakeConfig controls the connect probe
type HandshakeConfig struct {
	Attempts   int    `json:"attempts" mapstructure:"attempts"`
	IntervalMS int    `json:"interval_ms" mapstructure:"interval_ms"`
	Probe      string `json:"probe" mapstructure:"probe"`
	Ack        string `json:"ack" mapstructure:"ack"`
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	BasePath   string `json:"base_path" mapstructure:"base_path"`
	Filename   string `json:"filename" mapstructure:"filename"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// MonitoringConfig defines HTTP monitoring settings
type MonitoringConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	Port    int  `json:"port" mapstructure:"port"`
}

// SlackConfig defines Slack notification settings
type SlackConfig struct {
	WebhookURL       string `json:"webhook_url" mapstructure:"webhook_url"`
	NotifyConnect    bool   `json:"notify_connect" mapstructure:"notify_connect"`
	NotifyDisconnect bool   `json:"notify_disconnect" mapstructure:"notify_disconnect"`
	NotifyErrors     bool   `json:"notify_errors" mapstructure:"notify_errors"`
}

// keys lists every setting so environment overrides work without a file
var keys = []string{
	"app.name", "app.instance_id",
	"device.port", "device.baud_rate", "device.data_bits", "device.stop_bits",
	"device.parity", "device.flow_control", "device.buffer_size",
	"handshake.attempts", "handshake.interval_ms", "handshake.probe", "handshake.ack",
	"logging.level", "logging.base_path", "logging.filename",
	"logging.max_size_mb", "logging.max_backups", "logging.compress",
	"monitoring.enabled", "monitoring.port",
	"slack.webhook_url", "slack.notify_connect", "slack.notify_disconnect", "slack.notify_errors",
}

// Load reads the configuration file at path (JSON, YAML or TOML, chosen by
// extension) and applies PINLINK_* environment overrides. An empty path
// loads defaults plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply defaults
	cfg.applyDefaults()

	return &cfg, nil
}

// Default returns the configuration used when no file is given
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// applyDefaults sets default values for unspecified fields
func (c *Config) applyDefaults() {
	// App defaults
	if c.App.Name == "" {
		c.App.Name = "pinlink"
	}
	if c.App.InstanceID == "" {
		hostname, _ := os.Hostname()
		c.App.InstanceID = hostname
	}

	// Device defaults match the firmware sketch
	ser := serial.DefaultPortConfig()
	if c.Device.BaudRate == 0 {
		c.Device.BaudRate = ser.BaudRate
	}
	if c.Device.DataBits == 0 {
		c.Device.DataBits = ser.DataBits
	}
	if c.Device.StopBits == 0 {
		c.Device.StopBits = ser.StopBits
	}
	if c.Device.Parity == "" {
		c.Device.Parity = ser.Parity
	}
	if c.Device.FlowControl == "" {
		c.Device.FlowControl = ser.FlowControl
	}
	if c.Device.BufferSize == 0 {
		c.Device.BufferSize = 1024
	}

	// Handshake defaults
	hs := device.DefaultHandshake()
	if c.Handshake.Attempts == 0 {
		c.Handshake.Attempts = hs.Attempts
	}
	if c.Handshake.IntervalMS == 0 {
		c.Handshake.IntervalMS = int(hs.Interval / time.Millisecond)
	}
	if c.Handshake.Probe == "" {
		c.Handshake.Probe = hs.Probe
	}
	if c.Handshake.Ack == "" {
		c.Handshake.Ack = hs.Ack
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Filename == "" {
		c.Logging.Filename = "pinlink.log"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 50
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}

	// Monitoring defaults
	if c.Monitoring.Port == 0 {
		c.Monitoring.Port = 8080
	}
}

// Serial returns the line settings for the transport
func (c *DeviceConfig) Serial() serial.PortConfig {
	return serial.PortConfig{
		BaudRate:    c.BaudRate,
		DataBits:    c.DataBits,
		StopBits:    c.StopBits,
		Parity:      c.Parity,
		FlowControl: c.FlowControl,
	}
}

// GetInterval returns the handshake interval as a duration
func (c *HandshakeConfig) GetInterval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}

// Device returns the handshake parameters for the controller
func (c *HandshakeConfig) Device() device.Handshake {
	return device.Handshake{
		Attempts: c.Attempts,
		Interval: c.GetInterval(),
		Probe:    c.Probe,
		Ack:      c.Ack,
	}
}

// Redacted returns a copy safe to expose over HTTP
func (c *Config) Redacted() Config {
	out := *c
	if out.Slack.WebhookURL != "" {
		out.Slack.WebhookURL = "[redacted]"
	}
	return out
}
