// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 MyTooliT

// Package config loads icostat settings from a YAML file
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mytoolit/icostat/pkg/icotronic"
	"gopkg.in/yaml.v3"
)

// Transports
const (
	TransportSerial    = "serial"
	TransportWebSocket = "websocket"
)

// Config holds all settings. Command line flags override file values.
type Config struct {
	Connection Connection `yaml:"connection"`
	Protocol   Protocol   `yaml:"protocol"`
	LogLevel   string     `yaml:"log_level"`
}

// Connection selects and configures the CAN transport
type Connection struct {
	Transport   string `yaml:"transport"`
	Port        string `yaml:"port"`
	Baud        int    `yaml:"baud"`
	Bitrate     int    `yaml:"bitrate"`
	URL         string `yaml:"url"`
	Username    string `yaml:"username"`
	NoSSLVerify bool   `yaml:"no_ssl_verify"`
}

// Protocol tunes requests, discovery and streaming
type Protocol struct {
	Retries          int           `yaml:"retries"`
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	ConnectWindow    time.Duration `yaml:"connect_window"`
	StreamTimeout    time.Duration `yaml:"stream_timeout"`
}

// Default returns the built-in settings
func Default() *Config {
	discovery := icotronic.DefaultDiscoveryConfig()
	return &Config{
		Connection: Connection{
			Transport: TransportSerial,
			Baud:      115200,
			Bitrate:   1000000,
		},
		Protocol: Protocol{
			Retries:          icotronic.DefaultRetries,
			DiscoveryTimeout: discovery.Timeout,
			PollInterval:     discovery.PollInterval,
			ConnectWindow:    discovery.ConnectWindow,
			StreamTimeout:    icotronic.DefaultStreamTimeout,
		},
		LogLevel: "info",
	}
}

// Load reads the YAML file at path on top of the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML settings on top of the defaults
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings for consistency
func (c *Config) Validate() error {
	switch c.Connection.Transport {
	case TransportSerial:
		if c.Connection.Baud <= 0 {
			return fmt.Errorf("invalid baud rate: %d", c.Connection.Baud)
		}
		if c.Connection.Bitrate <= 0 {
			return fmt.Errorf("invalid CAN bitrate: %d", c.Connection.Bitrate)
		}
	case TransportWebSocket:
	default:
		return fmt.Errorf("unknown transport %q (use %q or %q)",
			c.Connection.Transport, TransportSerial, TransportWebSocket)
	}

	if c.Protocol.Retries < 1 {
		return fmt.Errorf("invalid retries: %d", c.Protocol.Retries)
	}
	if c.Protocol.StreamTimeout <= 0 {
		return fmt.Errorf("invalid stream timeout: %s", c.Protocol.StreamTimeout)
	}
	return c.Protocol.Discovery().Validate()
}

// Discovery returns the discovery timing
func (p Protocol) Discovery() icotronic.DiscoveryConfig {
	return icotronic.DiscoveryConfig{
		Timeout:       p.DiscoveryTimeout,
		PollInterval:  p.PollInterval,
		ConnectWindow: p.ConnectWindow,
	}
}
