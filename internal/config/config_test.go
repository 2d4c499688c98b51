// ABOUTME: Tests for YAML config loading and validation
// ABOUTME: Uses temp files for file-backed cases
package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default config should validate, got %v", err)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if cfg.Port != Default().Port {
		t.Errorf("Expected default port %d, got %d", Default().Port, cfg.Port)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netclocks.yaml")
	body := `
name: lab-node
port: 9100
peers:
  - 10.0.0.5:8923
  - 10.0.0.6:8923
probe_interval_ms: 30000
max_step_ms: 25
enable_mdns: false
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Name != "lab-node" || cfg.Port != 9100 {
		t.Errorf("File values not applied: %+v", cfg)
	}
	if len(cfg.Peers) != 2 || cfg.Peers[0] != "10.0.0.5:8923" {
		t.Errorf("Peers not parsed: %v", cfg.Peers)
	}
	if cfg.ProbeIntervalMs != 30000 || cfg.MaxStepMs != 25 {
		t.Errorf("Timing overrides not applied: %+v", cfg)
	}
	if cfg.EnableMDNS {
		t.Error("enable_mdns: false was ignored")
	}
	// Untouched keys keep their defaults.
	if cfg.SyncTimeoutMs != Default().SyncTimeoutMs {
		t.Errorf("Unset key lost its default: %d", cfg.SyncTimeoutMs)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("port: [not a number"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Expected error for unparsable config")
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Port = 0 }},
		{"port too high", func(c *Config) { c.Port = 70000 }},
		{"peer address without port", func(c *Config) { c.PeerAddress = "10.0.0.5" }},
		{"unparseable peer address", func(c *Config) { c.PeerAddress = "nonsense"; c.PeerPort = 8923 }},
		{"unparseable peer entry", func(c *Config) { c.Peers = []string{"missing-port"} }},
		{"zero probe interval", func(c *Config) { c.ProbeIntervalMs = 0 }},
		{"sync timeout under broadcast", func(c *Config) { c.SyncTimeoutMs = c.BroadcastIntervalMs }},
		{"min samples above window", func(c *Config) { c.MinSamples = c.SampleWindow + 1 }},
		{"outlier multiple below one", func(c *Config) { c.OutlierMultiple = 0.5 }},
		{"thresholds inverted", func(c *Config) { c.UnreachableThreshold = c.StaleThreshold }},
	}

	for _, tc := range cases {
		cfg := Default()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}
