// Package config loads, validates and saves the kill switch configuration.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleywu/killswitch/internal/killswitch"
	"github.com/wesleywu/killswitch/internal/logger"
)

// State sources
const (
	StateSourceNmcli = "nmcli"
	StateSourceDBus  = "dbus"
)

// DefaultConfigPath is used when no --config flag is given.
const DefaultConfigPath = "/etc/killswitch/config.yaml"

// ProfileConfig names a connection profile and its dummy interface.
type ProfileConfig struct {
	Name      string `yaml:"name"`
	Interface string `yaml:"interface"`
}

// Config represents the configuration for the kill switch manager
type Config struct {
	Mode killswitch.Mode `yaml:"killswitch_mode"`

	KillSwitchProfile ProfileConfig `yaml:"killswitch_profile"`
	RoutedProfile     ProfileConfig `yaml:"routed_profile"`

	IPv4DummyAddress string `yaml:"ipv4_dummy_address"`
	IPv4DummyGateway string `yaml:"ipv4_dummy_gateway"`
	IPv6DummyAddress string `yaml:"ipv6_dummy_address"`
	IPv6DummyGateway string `yaml:"ipv6_dummy_gateway"`
	RouteMetric      int    `yaml:"route_metric"`

	NmcliPath      string        `yaml:"nmcli_path"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	StateSource    string        `yaml:"state_source"`

	LogLevel string `yaml:"log_level"`
}

// NewDefaultConfig creates a new config with default values
func NewDefaultConfig() *Config {
	return &Config{
		Mode: killswitch.ModeDisabled,
		KillSwitchProfile: ProfileConfig{
			Name:      "pvpn-killswitch",
			Interface: "pvpnksintrf0",
		},
		RoutedProfile: ProfileConfig{
			Name:      "pvpn-routed-killswitch",
			Interface: "pvpnroutintrf0",
		},
		IPv4DummyAddress: "100.85.0.1/24",
		IPv4DummyGateway: "100.85.0.1",
		IPv6DummyAddress: "fdeb:446c:912d:08da::/64",
		IPv6DummyGateway: "fdeb:446c:912d:08da::1",
		RouteMetric:      killswitch.DefaultRouteMetric,
		NmcliPath:        "nmcli",
		CommandTimeout:   30 * time.Second,
		StateSource:      StateSourceNmcli,
		LogLevel:         "info",
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Mode < killswitch.ModeDisabled || c.Mode > killswitch.ModeSoft {
		return fmt.Errorf("invalid killswitch_mode: %d", int(c.Mode))
	}

	if err := c.KillSwitchProfile.validate("killswitch_profile"); err != nil {
		return err
	}
	if err := c.RoutedProfile.validate("routed_profile"); err != nil {
		return err
	}
	if c.KillSwitchProfile.Name == c.RoutedProfile.Name {
		return fmt.Errorf("killswitch_profile and routed_profile share the name %q", c.RoutedProfile.Name)
	}
	if c.KillSwitchProfile.Interface == c.RoutedProfile.Interface {
		return fmt.Errorf("killswitch_profile and routed_profile share the interface %q", c.RoutedProfile.Interface)
	}

	if err := validatePrefix("ipv4_dummy_address", c.IPv4DummyAddress, true); err != nil {
		return err
	}
	if err := validateAddr("ipv4_dummy_gateway", c.IPv4DummyGateway, true); err != nil {
		return err
	}
	if err := validatePrefix("ipv6_dummy_address", c.IPv6DummyAddress, false); err != nil {
		return err
	}
	if err := validateAddr("ipv6_dummy_gateway", c.IPv6DummyGateway, false); err != nil {
		return err
	}

	if c.RouteMetric < 0 {
		return fmt.Errorf("route_metric must be non-negative, got %d", c.RouteMetric)
	}
	if c.NmcliPath == "" {
		return errors.New("nmcli_path must not be empty")
	}
	if c.CommandTimeout < 0 {
		return fmt.Errorf("command_timeout must be non-negative, got %v", c.CommandTimeout)
	}

	switch c.StateSource {
	case StateSourceNmcli, StateSourceDBus:
	default:
		return fmt.Errorf("invalid state_source: %q", c.StateSource)
	}

	if !logger.ValidLevel(c.LogLevel) {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	return nil
}

func (p ProfileConfig) validate(field string) error {
	if p.Name == "" {
		return fmt.Errorf("%s.name must not be empty", field)
	}
	if p.Interface == "" {
		return fmt.Errorf("%s.interface must not be empty", field)
	}
	// IFNAMSIZ minus the terminating NUL
	if len(p.Interface) > 15 {
		return fmt.Errorf("%s.interface %q exceeds 15 characters", field, p.Interface)
	}
	return nil
}

func validatePrefix(field, value string, ipv4 bool) error {
	p, err := netip.ParsePrefix(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	if p.Addr().Is4() != ipv4 {
		return fmt.Errorf("invalid %s: %s is the wrong address family", field, value)
	}
	return nil
}

func validateAddr(field, value string, ipv4 bool) error {
	a, err := netip.ParseAddr(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	if a.Is4() != ipv4 {
		return fmt.Errorf("invalid %s: %s is the wrong address family", field, value)
	}
	return nil
}

// Settings converts the file representation into orchestrator settings.
func (c *Config) Settings() killswitch.Settings {
	return killswitch.Settings{
		KillSwitch: killswitch.Profile{
			Name:          c.KillSwitchProfile.Name,
			InterfaceName: c.KillSwitchProfile.Interface,
		},
		Routed: killswitch.Profile{
			Name:          c.RoutedProfile.Name,
			InterfaceName: c.RoutedProfile.Interface,
		},
		IPv4DummyAddress: c.IPv4DummyAddress,
		IPv4DummyGateway: c.IPv4DummyGateway,
		IPv6DummyAddress: c.IPv6DummyAddress,
		IPv6DummyGateway: c.IPv6DummyGateway,
		Metric:           c.RouteMetric,
		Mode:             c.Mode,
	}
}

// LoadConfig loads configuration from file. Missing files yield the
// defaults; keys absent from the file keep their default values.
func LoadConfig(configPath string) (*Config, error) {
	cfg := NewDefaultConfig()

	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}

	return cfg, nil
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
