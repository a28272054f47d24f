// Package config provides YAML configuration loading and validation for the
// p2debug pipeline.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level startup configuration for a p2debug process.
type Config struct {
	// RingCapacityBytes sizes the ring buffer the transport writes into and
	// the extractor reads from. Required, must be a positive power of two
	// large enough to hold at least one 416-byte debugger snapshot.
	RingCapacityBytes int `yaml:"ring_capacity_bytes"`

	// QueueSoftCap is the output queue depth at which backpressure is
	// signaled to telemetry. Required.
	QueueSoftCap int `yaml:"queue_soft_cap"`

	// QueueHardCap is the output queue depth at which new messages are
	// rejected and counted as dropped. Required, must be at least
	// QueueSoftCap.
	QueueHardCap int `yaml:"queue_hard_cap"`

	// ExtractBudget bounds how many messages a single extraction call may
	// emit before yielding control back to the event loop. Required.
	ExtractBudget int `yaml:"extract_budget"`

	// Source selects and configures the ring's single writer.
	Source SourceConfig `yaml:"source"`

	// Discovery configures optional mDNS board discovery.
	Discovery DiscoveryConfig `yaml:"discovery"`

	// TelemetryAddr is the listen address for the telemetry HTTP server
	// (e.g. "127.0.0.1:8080"). Defaults to "127.0.0.1:8080" when omitted.
	TelemetryAddr string `yaml:"telemetry_addr"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`

	// LogFormat selects "text" or "json" log rendering. Defaults to "text"
	// when omitted.
	LogFormat string `yaml:"log_format"`
}

// SourceConfig describes where the raw debug channel bytes come from.
type SourceConfig struct {
	// Kind is one of "serial" or "ssh". Required.
	Kind string `yaml:"kind"`

	// SerialPort is the local tty device path, e.g. "/dev/ttyUSB0".
	// Required when Kind is "serial".
	SerialPort string `yaml:"serial_port"`

	// SerialBaud is the baud rate for the local serial device. Defaults to
	// 115200 when omitted. Only meaningful when Kind is "serial".
	SerialBaud int `yaml:"serial_baud"`

	// SSHHost, SSHUser, SSHKeyPath, and SSHDevicePath configure a remote
	// replay source over SSH. SSHHost and SSHDevicePath are required when
	// Kind is "ssh". SSHUser is optional; the SSH source uses "root" when it
	// is empty. SSHKeyPath is not checked here, but without it the SSH
	// source has no credential and its Dial fails.
	SSHHost       string `yaml:"ssh_host"`
	SSHUser       string `yaml:"ssh_user"`
	SSHKeyPath    string `yaml:"ssh_key_path"`
	SSHDevicePath string `yaml:"ssh_device_path"`
}

// DiscoveryConfig controls mDNS discovery of P2 debug bridges.
type DiscoveryConfig struct {
	// Enabled turns on mDNS discovery at startup.
	Enabled bool `yaml:"enabled"`

	// Service is the mDNS service type to browse, e.g. "_p2debug._tcp".
	// Defaults to "_p2debug._tcp" when omitted.
	Service string `yaml:"service"`

	// TimeoutSeconds bounds how long the browse runs. Defaults to 5 when
	// omitted.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"text": true,
	"json": true,
}

var validSourceKinds = map[string]bool{
	"serial": true,
	"ssh":    true,
}

// LoadConfig reads the YAML file at path, unmarshals it into Config, applies
// defaults, and validates all required fields. It returns an error
// describing every validation failure encountered, not just the first.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.TelemetryAddr == "" {
		cfg.TelemetryAddr = "127.0.0.1:8080"
	}
	if cfg.Source.SerialBaud == 0 {
		cfg.Source.SerialBaud = 115200
	}
	if cfg.Discovery.Service == "" {
		cfg.Discovery.Service = "_p2debug._tcp"
	}
	if cfg.Discovery.TimeoutSeconds == 0 {
		cfg.Discovery.TimeoutSeconds = 5
	}
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.RingCapacityBytes <= 0 {
		errs = append(errs, errors.New("ring_capacity_bytes must be positive"))
	} else if cfg.RingCapacityBytes < 416 {
		errs = append(errs, errors.New("ring_capacity_bytes must be at least 416, the debugger snapshot size"))
	} else if cfg.RingCapacityBytes&(cfg.RingCapacityBytes-1) != 0 {
		errs = append(errs, errors.New("ring_capacity_bytes must be a power of two"))
	}

	if cfg.QueueHardCap <= 0 {
		errs = append(errs, errors.New("queue_hard_cap must be positive"))
	}
	if cfg.QueueSoftCap <= 0 || cfg.QueueSoftCap > cfg.QueueHardCap {
		errs = append(errs, errors.New("queue_soft_cap must be positive and not exceed queue_hard_cap"))
	}
	if cfg.ExtractBudget <= 0 {
		errs = append(errs, errors.New("extract_budget must be positive"))
	}

	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}
	if !validLogFormats[cfg.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format %q must be one of: text, json", cfg.LogFormat))
	}

	if !validSourceKinds[cfg.Source.Kind] {
		errs = append(errs, fmt.Errorf("source.kind %q must be one of: serial, ssh", cfg.Source.Kind))
	} else if cfg.Source.Kind == "serial" && cfg.Source.SerialPort == "" {
		errs = append(errs, errors.New("source.serial_port is required when source.kind is \"serial\""))
	} else if cfg.Source.Kind == "ssh" {
		if cfg.Source.SSHHost == "" {
			errs = append(errs, errors.New("source.ssh_host is required when source.kind is \"ssh\""))
		}
		if cfg.Source.SSHDevicePath == "" {
			errs = append(errs, errors.New("source.ssh_device_path is required when source.kind is \"ssh\""))
		}
	}

	return errors.Join(errs...)
}
