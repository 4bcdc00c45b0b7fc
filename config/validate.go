package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
)

// ValidationError contains details about configuration validation failures
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var (
	validBaudRates = []int{300, 1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200, 230400}
	validParities  = []string{"none", "odd", "even", "mark", "space"}
	validLevels    = []string{"debug", "info", "warn", "error"}
)

// Validate checks the configuration for errors
func Validate(cfg *Config) error {
	var errors ValidationErrors

	errors = append(errors, validateDevice(cfg.Device)...)
	errors = append(errors, validateHandshake(cfg.Handshake)...)

	// Validate logging
	if !slices.Contains(validLevels, strings.ToLower(cfg.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid level: %s (available: %s)", cfg.Logging.Level, strings.Join(validLevels, ", ")),
		})
	}
	if cfg.Logging.BasePath != "" {
		if info, err := os.Stat(cfg.Logging.BasePath); err != nil || !info.IsDir() {
			errors = append(errors, ValidationError{
				Field:   "logging.base_path",
				Message: fmt.Sprintf("directory does not exist: %s", cfg.Logging.BasePath),
			})
		}
	}

	// Validate monitoring
	if cfg.Monitoring.Enabled && (cfg.Monitoring.Port < 1 || cfg.Monitoring.Port > 65535) {
		errors = append(errors, ValidationError{
			Field:   "monitoring.port",
			Message: "must be between 1 and 65535",
		})
	}

	// Validate slack
	if cfg.Slack.WebhookURL != "" && !strings.HasPrefix(cfg.Slack.WebhookURL, "https://") {
		errors = append(errors, ValidationError{
			Field:   "slack.webhook_url",
			Message: "must be an https URL",
		})
	}

	if len(errors) > 0 {
		return errors
	}
	return nil
}

func validateDevice(dev DeviceConfig) ValidationErrors {
	var errors ValidationErrors

	if !slices.Contains(validBaudRates, dev.BaudRate) {
		errors = append(errors, ValidationError{
			Field:   "device.baud_rate",
			Message: fmt.Sprintf("invalid baud rate: %d", dev.BaudRate),
		})
	}
	if dev.DataBits < 5 || dev.DataBits > 8 {
		errors = append(errors, ValidationError{
			Field:   "device.data_bits",
			Message: "must be between 5 and 8",
		})
	}
	if dev.StopBits != 1 && dev.StopBits != 2 {
		errors = append(errors, ValidationError{
			Field:   "device.stop_bits",
			Message: "must be 1 or 2",
		})
	}
	if !slices.Contains(validParities, strings.ToLower(dev.Parity)) {
		errors = append(errors, ValidationError{
			Field:   "device.parity",
			Message: fmt.Sprintf("invalid parity: %s (available: %s)", dev.Parity, strings.Join(validParities, ", ")),
		})
	}
	// The serial driver has no flow control mode
	if strings.ToLower(dev.FlowControl) != "none" {
		errors = append(errors, ValidationError{
			Field:   "device.flow_control",
			Message: fmt.Sprintf("unsupported flow control: %s (only 'none')", dev.FlowControl),
		})
	}
	if dev.BufferSize < 16 {
		errors = append(errors, ValidationError{
			Field:   "device.buffer_size",
			Message: "must be at least 16 bytes",
		})
	}

	return errors
}

func validateHandshake(hs HandshakeConfig) ValidationErrors {
	var errors ValidationErrors

	if hs.Attempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "handshake.attempts",
			Message: "must be at least 1",
		})
	}
	if hs.IntervalMS < 1 {
		errors = append(errors, ValidationError{
			Field:   "handshake.interval_ms",
			Message: "must be at least 1 millisecond",
		})
	}
	for field, token := range map[string]string{"handshake.probe": hs.Probe, "handshake.ack": hs.Ack} {
		if token == "" || strings.ContainsAny(token, "\r\n") {
			errors = append(errors, ValidationError{
				Field:   field,
				Message: "must be a non-empty single-line token",
			})
		}
	}

	return errors
}
