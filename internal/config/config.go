// ABOUTME: Daemon configuration: YAML file loading, defaults and validation
// ABOUTME: CLI flags override file values in main
package config

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration as read from YAML.
type Config struct {
	Name        string `yaml:"name"`
	Port        int    `yaml:"port"`
	BindAddress string `yaml:"bind_address"`

	// Bootstrap peers. peer_address/peer_port get the HELLO handshake;
	// peers entries ("host:port") get a direct CONNECT.
	PeerAddress string   `yaml:"peer_address"`
	PeerPort    int      `yaml:"peer_port"`
	Peers       []string `yaml:"peers"`

	// Sync timing, all in milliseconds.
	ProbeIntervalMs     int `yaml:"probe_interval_ms"`
	ProbeJitterMs       int `yaml:"probe_jitter_ms"`
	ProbeTimeoutMs      int `yaml:"probe_timeout_ms"`
	BroadcastIntervalMs int `yaml:"broadcast_interval_ms"`
	SyncTimeoutMs       int `yaml:"sync_timeout_ms"`

	// Estimation and clock discipline.
	SampleWindow    int     `yaml:"sample_window"`
	MinSamples      int     `yaml:"min_samples"`
	OutlierMultiple float64 `yaml:"outlier_multiple"`
	MaxStepMs       int     `yaml:"max_step_ms"`

	// Peer lifecycle thresholds.
	StaleThreshold       int `yaml:"stale_threshold"`
	UnreachableThreshold int `yaml:"unreachable_threshold"`
	StaleBackoff         int `yaml:"stale_backoff"`
	MaxInFlightProbes    int `yaml:"max_in_flight_probes"`

	// Reporting and discovery.
	StatusPort int  `yaml:"status_port"`
	EnableMDNS bool `yaml:"enable_mdns"`
}

// Default returns the configuration the daemon runs with when no file or
// flags override it.
func Default() Config {
	return Config{
		Port:                 8923,
		BindAddress:          "0.0.0.0",
		ProbeIntervalMs:      15000,
		ProbeJitterMs:        2000,
		ProbeTimeoutMs:       5000,
		BroadcastIntervalMs:  5000,
		SyncTimeoutMs:        20000,
		SampleWindow:         8,
		MinSamples:           3,
		OutlierMultiple:      4.0,
		MaxStepMs:            50,
		StaleThreshold:       8,
		UnreachableThreshold: 24,
		StaleBackoff:         4,
		MaxInFlightProbes:    8,
		StatusPort:           0, // disabled unless set
		EnableMDNS:           true,
	}
}

// Load reads a YAML config file over the defaults. A missing path is not an
// error; the defaults are returned as-is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.PeerPort < 0 || c.PeerPort > 65535 {
		return fmt.Errorf("peer_port %d out of range", c.PeerPort)
	}
	if c.PeerAddress != "" {
		if c.PeerPort == 0 {
			return fmt.Errorf("peer_address set without peer_port")
		}
		if net.ParseIP(c.PeerAddress) == nil {
			return fmt.Errorf("peer_address %q is not a valid IP", c.PeerAddress)
		}
	}
	for _, p := range c.Peers {
		if _, err := net.ResolveUDPAddr("udp", p); err != nil {
			return fmt.Errorf("peer %q: %w", p, err)
		}
	}
	if c.ProbeIntervalMs <= 0 {
		return fmt.Errorf("probe_interval_ms must be positive")
	}
	if c.ProbeTimeoutMs <= 0 {
		return fmt.Errorf("probe_timeout_ms must be positive")
	}
	if c.SyncTimeoutMs <= c.BroadcastIntervalMs {
		return fmt.Errorf("sync_timeout_ms must exceed broadcast_interval_ms")
	}
	if c.SampleWindow < 1 {
		return fmt.Errorf("sample_window must be at least 1")
	}
	if c.MinSamples < 1 || c.MinSamples > c.SampleWindow {
		return fmt.Errorf("min_samples must be between 1 and sample_window")
	}
	if c.OutlierMultiple < 1 {
		return fmt.Errorf("outlier_multiple must be at least 1")
	}
	if c.MaxStepMs <= 0 {
		return fmt.Errorf("max_step_ms must be positive")
	}
	if c.StaleThreshold < 1 || c.UnreachableThreshold <= c.StaleThreshold {
		return fmt.Errorf("unreachable_threshold must exceed stale_threshold (both positive)")
	}
	if c.StatusPort < 0 || c.StatusPort > 65535 {
		return fmt.Errorf("status_port %d out of range", c.StatusPort)
	}
	return nil
}
