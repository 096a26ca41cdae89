// Package config holds the plain data types the simulator core
// consumes. Loading precedence (defaults -> environment -> file ->
// command line) is out of scope for the core per spec.md §1; Load
// here only decodes YAML and applies a small set of environment
// overrides, matching the team's internal/config/config.go pattern.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level simulator configuration (spec.md §6).
type Config struct {
	Gateway GatewayConfig  `yaml:"gateway"`
	Devices []DeviceConfig `yaml:"devices"`
	Log     LogConfig      `yaml:"log"`
	Status  StatusConfig   `yaml:"status"`
}

// GatewayConfig describes the Semtech UDP packet-forwarder endpoint the
// simulator dials as a fake gateway.
type GatewayConfig struct {
	EUI           string        `yaml:"eui"`
	UDPIP         string        `yaml:"udp_ip"`
	UDPPort       uint16        `yaml:"udp_port"`
	PullInterval  time.Duration `yaml:"pull_interval"`
	StatsInterval time.Duration `yaml:"stats_interval"`
}

// DeviceConfig describes one simulated ABP device.
type DeviceConfig struct {
	DevAddr       string  `yaml:"devaddr"`
	NwkSKey       string  `yaml:"nwk_skey"`
	AppSKey       string  `yaml:"app_skey"`
	SendIntervalS uint32  `yaml:"send_interval_s"`
	DistanceM     uint32  `yaml:"distance_m"`
	Environment   string  `yaml:"environment"`
	MaxAckRetries int     `yaml:"max_ack_retries"`
	SNRThreshold  float64 `yaml:"snr_threshold"`
}

// LogConfig controls zerolog's global level and console format.
type LogConfig struct {
	Level string `yaml:"level"`
}

// StatusConfig controls the optional read-only introspection server.
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads and decodes a YAML configuration file, then applies
// environment-variable overrides on top, and validates it.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("GATEWAY_UDP_IP"); addr != "" {
		c.Gateway.UDPIP = addr
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}
}

// Validate rejects configuration errors before the event loop starts,
// per spec.md §7's Configuration error class: duplicate DevAddr or a
// missing DevAddr in a device block are both startup failures.
func (c *Config) Validate() error {
	if c.Gateway.UDPIP == "" {
		return fmt.Errorf("config: gateway.udp_ip is required")
	}
	if c.Gateway.UDPPort == 0 {
		return fmt.Errorf("config: gateway.udp_port is required")
	}
	if len(c.Devices) == 0 {
		return fmt.Errorf("config: at least one device is required")
	}

	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.DevAddr == "" {
			return fmt.Errorf("config: devices[%d] is missing devaddr", i)
		}
		if seen[d.DevAddr] {
			return fmt.Errorf("config: duplicate devaddr %s", d.DevAddr)
		}
		seen[d.DevAddr] = true

		if d.NwkSKey == "" || d.AppSKey == "" {
			return fmt.Errorf("config: device %s is missing a session key", d.DevAddr)
		}
		if d.SendIntervalS == 0 {
			return fmt.Errorf("config: device %s has a zero send_interval_s", d.DevAddr)
		}
	}

	return nil
}
