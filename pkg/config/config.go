// Package config loads host configuration from defaults, an optional YAML
// file, and environment overrides, in that order.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/mcpden/mcpden/pkg/errdefs"
)

// Environment overrides
const (
	EnvHostPort = "MCP_HOST_PORT"
	EnvDataDir  = "MCP_DATA_DIR"
)

// ListenConfig bounds where the HTTP API binds. The listener is always
// loopback-only; PortLow is the preferred port and the scan walks up to
// PortHigh when it is taken.
type ListenConfig struct {
	PortLow  int `yaml:"portLow"`
	PortHigh int `yaml:"portHigh"`
}

// PortsConfig bounds the range instance ports are allocated from
type PortsConfig struct {
	Low  int `yaml:"low"`
	High int `yaml:"high"`
}

// LogConfig controls the global logger
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// SessionConfig controls session expiry
type SessionConfig struct {
	TTLMinutes   int `yaml:"ttlMinutes"`
	SweepSeconds int `yaml:"sweepSeconds"`
}

// Config is the full host configuration
type Config struct {
	DataDir string        `yaml:"dataDir"`
	Listen  ListenConfig  `yaml:"listen"`
	Ports   PortsConfig   `yaml:"ports"`
	Log     LogConfig     `yaml:"log"`
	Session SessionConfig `yaml:"session"`
}

// Default returns the built-in configuration
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		DataDir: filepath.Join(home, ".mcpden"),
		Listen:  ListenConfig{PortLow: 4040, PortHigh: 4099},
		Ports:   PortsConfig{Low: 40000, High: 49999},
		Log:     LogConfig{Level: "info", JSON: false},
		Session: SessionConfig{TTLMinutes: 30, SweepSeconds: 30},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty; a missing file is only an error when explicitly
// named), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errdefs.InvalidArgument("reading config file %s: %v", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errdefs.InvalidArgument("parsing config file %s: %v", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(EnvHostPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Listen.PortLow = port
			if c.Listen.PortHigh < port {
				c.Listen.PortHigh = port
			}
		}
	}
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return errdefs.InvalidArgument("dataDir must not be empty")
	}
	if c.Listen.PortLow < 1 || c.Listen.PortLow > 65535 {
		return errdefs.InvalidArgument("listen.portLow %d out of range", c.Listen.PortLow)
	}
	if c.Listen.PortHigh < c.Listen.PortLow {
		return errdefs.InvalidArgument("listen.portHigh %d below listen.portLow %d",
			c.Listen.PortHigh, c.Listen.PortLow)
	}
	if c.Ports.Low < 1024 || c.Ports.High > 65535 || c.Ports.High < c.Ports.Low {
		return errdefs.InvalidArgument("instance port range %d-%d is invalid",
			c.Ports.Low, c.Ports.High)
	}
	if c.Session.TTLMinutes < 1 {
		return errdefs.InvalidArgument("session.ttlMinutes must be at least 1")
	}
	if c.Session.SweepSeconds < 1 {
		return errdefs.InvalidArgument("session.sweepSeconds must be at least 1")
	}
	return nil
}
