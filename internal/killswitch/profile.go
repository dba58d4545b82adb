package killswitch

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// DefaultRouteMetric keeps both synthetic profiles behind any real default route.
const DefaultRouteMetric = 98

// Profile identifies one of the two connection profiles managed here.
type Profile struct {
	Name          string
	InterfaceName string
}

// Status mirrors a profile's state in the network configuration service.
// IsRunning implies Exists.
type Status struct {
	Exists    bool
	IsRunning bool
}

// ProfileKind distinguishes the blanket block from the routed exception.
type ProfileKind int

const (
	// KillSwitchProfile occupies the default route for both families.
	KillSwitchProfile ProfileKind = iota
	// RoutedProfile routes every IPv4 address except the server.
	RoutedProfile
)

func (k ProfileKind) String() string {
	switch k {
	case KillSwitchProfile:
		return "killswitch"
	case RoutedProfile:
		return "routed"
	default:
		return "unknown"
	}
}

// ProfileSpec is the full declarative description handed to a Backend.
// An empty IPv4Gateway means no IPv4 default gateway is configured.
type ProfileSpec struct {
	Kind          ProfileKind
	Name          string
	InterfaceName string
	IPv4Address   string
	IPv4Gateway   string
	IPv6Address   string
	IPv6Gateway   string
	Metric        int
	IPv4Routes    []netip.Prefix
}

// Settings carries the names and dummy addressing for both profiles.
type Settings struct {
	KillSwitch       Profile
	Routed           Profile
	IPv4DummyAddress string
	IPv4DummyGateway string
	IPv6DummyAddress string
	IPv6DummyGateway string
	Metric           int
	Mode             Mode
}

// Mode is the user's kill switch preference. The numeric values match the
// ones older configuration files store.
type Mode int

const (
	ModeDisabled Mode = iota
	ModeHard
	ModeSoft
)

func (m Mode) String() string {
	switch m {
	case ModeDisabled:
		return "disabled"
	case ModeHard:
		return "hard"
	case ModeSoft:
		return "soft"
	default:
		return "unknown"
	}
}

// ParseMode accepts a mode name or its numeric value.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "disabled", "off":
		return ModeDisabled, nil
	case "hard":
		return ModeHard, nil
	case "soft":
		return ModeSoft, nil
	}

	n, err := strconv.Atoi(s)
	if err == nil && n >= int(ModeDisabled) && n <= int(ModeSoft) {
		return Mode(n), nil
	}
	return ModeDisabled, fmt.Errorf("unknown kill switch mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if m < ModeDisabled || m > ModeSoft {
		return nil, fmt.Errorf("unknown kill switch mode %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
