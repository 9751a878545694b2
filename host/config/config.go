package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"rangefinder/host/serial"
)

// HostConfig is the host tool configuration file, in JSON or YAML
type HostConfig struct {
	Device        string `json:"device" yaml:"device"`
	Baud          int    `json:"baud" yaml:"baud"`
	ReadTimeoutMS int    `json:"read_timeout_ms" yaml:"read_timeout_ms"`
	Verbose       bool   `json:"verbose" yaml:"verbose"`

	// Number of reports to print before exiting (0 = run until interrupted)
	Count int `json:"count" yaml:"count"`

	// CBOR file receiving every pulse report; empty disables recording
	Record string `json:"record" yaml:"record"`
}

const DefaultDevice = "/dev/ttyACM0"

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *HostConfig {
	cfg := &HostConfig{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig parses a JSON configuration, filling in defaults for
// missing fields
func LoadConfig(data []byte) (*HostConfig, error) {
	cfg := &HostConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadYAMLConfig parses a YAML configuration, filling in defaults for
// missing fields
func LoadYAMLConfig(data []byte) (*HostConfig, error) {
	cfg := &HostConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadConfigFile reads a configuration file. Files ending in .yaml or
// .yml are parsed as YAML, anything else as JSON.
func LoadConfigFile(path string) (*HostConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAMLConfig(data)
	default:
		return LoadConfig(data)
	}
}

func (c *HostConfig) applyDefaults() {
	if c.Device == "" {
		c.Device = DefaultDevice
	}
	if c.Baud == 0 {
		c.Baud = serial.DefaultBaud
	}
	if c.ReadTimeoutMS == 0 {
		c.ReadTimeoutMS = serial.DefaultReadTimeout
	}
}

func (c *HostConfig) validate() error {
	if c.Baud < 0 {
		return fmt.Errorf("invalid baud rate %d", c.Baud)
	}
	if c.ReadTimeoutMS < 0 {
		return fmt.Errorf("invalid read timeout %dms", c.ReadTimeoutMS)
	}
	if c.Count < 0 {
		return fmt.Errorf("invalid count %d", c.Count)
	}
	return nil
}

// Serial returns the serial port settings
func (c *HostConfig) Serial() *serial.Config {
	return &serial.Config{
		Device:      c.Device,
		Baud:        c.Baud,
		ReadTimeout: c.ReadTimeoutMS,
	}
}
