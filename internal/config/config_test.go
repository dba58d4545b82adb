package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wesleywu/killswitch/internal/killswitch"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg.LogLevel != "info" {
		t.Errorf("Expected log level 'info', got '%s'", cfg.LogLevel)
	}

	if cfg.Mode != killswitch.ModeDisabled {
		t.Errorf("Expected mode disabled, got %v", cfg.Mode)
	}

	if cfg.RouteMetric != 98 {
		t.Errorf("Expected route metric 98, got %d", cfg.RouteMetric)
	}

	if cfg.CommandTimeout != 30*time.Second {
		t.Errorf("Expected command timeout 30s, got %v", cfg.CommandTimeout)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"invalid log level", func(c *Config) { c.LogLevel = "invalid" }, true},
		{"invalid mode", func(c *Config) { c.Mode = killswitch.Mode(7) }, true},
		{"empty profile name", func(c *Config) { c.RoutedProfile.Name = "" }, true},
		{"empty interface", func(c *Config) { c.KillSwitchProfile.Interface = "" }, true},
		{"long interface", func(c *Config) { c.KillSwitchProfile.Interface = "averyveryverylongname" }, true},
		{"shared names", func(c *Config) { c.RoutedProfile.Name = c.KillSwitchProfile.Name }, true},
		{"shared interfaces", func(c *Config) { c.RoutedProfile.Interface = c.KillSwitchProfile.Interface }, true},
		{"ipv4 address without prefix", func(c *Config) { c.IPv4DummyAddress = "100.85.0.1" }, true},
		{"ipv4 address wrong family", func(c *Config) { c.IPv4DummyAddress = "fd00::1/64" }, true},
		{"ipv4 gateway garbage", func(c *Config) { c.IPv4DummyGateway = "gateway" }, true},
		{"ipv6 gateway wrong family", func(c *Config) { c.IPv6DummyGateway = "100.85.0.1" }, true},
		{"negative metric", func(c *Config) { c.RouteMetric = -1 }, true},
		{"zero metric", func(c *Config) { c.RouteMetric = 0 }, false},
		{"negative timeout", func(c *Config) { c.CommandTimeout = -time.Second }, true},
		{"no timeout", func(c *Config) { c.CommandTimeout = 0 }, false},
		{"dbus state source", func(c *Config) { c.StateSource = StateSourceDBus }, false},
		{"unknown state source", func(c *Config) { c.StateSource = "netlink" }, true},
		{"empty nmcli path", func(c *Config) { c.NmcliPath = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.expectError {
				t.Errorf("Expected error: %v, got: %v", tt.expectError, err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	// Test loading non-existent file (should return default config)
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "non-existent.yaml"))
	if err != nil {
		t.Errorf("Expected no error for non-existent file, got: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default log level, got: %s", cfg.LogLevel)
	}

	// Test loading empty path (should return default config)
	cfg, err = LoadConfig("")
	if err != nil {
		t.Errorf("Expected no error for empty path, got: %v", err)
	}

	if cfg == nil {
		t.Error("Expected config, got nil")
	}
}

func TestLoadConfigPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := strings.Join([]string{
		"killswitch_mode: hard",
		"routed_profile:",
		"  name: corp-routed",
		"  interface: corprout0",
		"command_timeout: 5s",
		"state_source: dbus",
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Mode != killswitch.ModeHard {
		t.Errorf("Expected mode hard, got %v", cfg.Mode)
	}
	if cfg.RoutedProfile.Name != "corp-routed" || cfg.RoutedProfile.Interface != "corprout0" {
		t.Errorf("Routed profile not loaded: %+v", cfg.RoutedProfile)
	}
	if cfg.CommandTimeout != 5*time.Second {
		t.Errorf("Expected 5s timeout, got %v", cfg.CommandTimeout)
	}
	if cfg.StateSource != StateSourceDBus {
		t.Errorf("Expected dbus state source, got %s", cfg.StateSource)
	}
	// untouched keys keep their defaults
	if cfg.KillSwitchProfile.Name != "pvpn-killswitch" {
		t.Errorf("Expected default kill switch name, got %s", cfg.KillSwitchProfile.Name)
	}
	if cfg.RouteMetric != 98 {
		t.Errorf("Expected default metric, got %d", cfg.RouteMetric)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed yaml", "killswitch_mode: [hard"},
		{"unknown mode", "killswitch_mode: paranoid"},
		{"invalid after merge", "route_metric: -4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestConfigSave(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Mode = killswitch.ModeSoft
	tempFile := filepath.Join(t.TempDir(), "nested", "config.yaml")

	err := cfg.Save(tempFile)
	if err != nil {
		t.Errorf("Failed to save config: %v", err)
	}

	// Verify file exists
	data, err := os.ReadFile(tempFile)
	if err != nil {
		t.Fatalf("Config file was not created: %v", err)
	}
	if !strings.Contains(string(data), "killswitch_mode: soft") {
		t.Errorf("Expected mode written by name, got:\n%s", data)
	}

	// Load and verify
	loadedCfg, err := LoadConfig(tempFile)
	if err != nil {
		t.Errorf("Failed to load saved config: %v", err)
	}

	if *loadedCfg != *cfg {
		t.Errorf("Config mismatch after save/load: %+v != %+v", loadedCfg, cfg)
	}
}

func TestSettings(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Mode = killswitch.ModeHard
	s := cfg.Settings()

	if s.KillSwitch.Name != "pvpn-killswitch" || s.KillSwitch.InterfaceName != "pvpnksintrf0" {
		t.Errorf("Unexpected kill switch profile: %+v", s.KillSwitch)
	}
	if s.Routed.Name != "pvpn-routed-killswitch" || s.Routed.InterfaceName != "pvpnroutintrf0" {
		t.Errorf("Unexpected routed profile: %+v", s.Routed)
	}
	if s.IPv6DummyGateway != "fdeb:446c:912d:08da::1" || s.Metric != 98 || s.Mode != killswitch.ModeHard {
		t.Errorf("Unexpected settings: %+v", s)
	}
}
