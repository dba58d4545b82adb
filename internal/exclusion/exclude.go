// Package exclusion computes the set of disjoint prefixes that covers an
// address space except for a single hole.
package exclusion

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// IPv4Universe is the full IPv4 address space.
var IPv4Universe = netip.MustParsePrefix("0.0.0.0/0")

// ErrInvalidAddress is matched by every InvalidAddressError via errors.Is.
var ErrInvalidAddress = errors.New("invalid address")

// InvalidAddressError reports a hole or universe that cannot be excluded.
type InvalidAddressError struct {
	Input  string
	Reason string
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("invalid address %q: %s", e.Input, e.Reason)
}

func (e *InvalidAddressError) Is(target error) bool {
	return target == ErrInvalidAddress
}

// Exclude returns the minimal set of disjoint prefixes whose union is
// universe minus hole. Blocks are ordered from the narrowest (the sibling
// of the hole) to the widest (a half of universe).
func Exclude(universe, hole netip.Prefix) ([]netip.Prefix, error) {
	if !universe.IsValid() {
		return nil, &InvalidAddressError{Input: universe.String(), Reason: "invalid universe"}
	}
	if !hole.IsValid() {
		return nil, &InvalidAddressError{Input: hole.String(), Reason: "invalid hole"}
	}

	universe = universe.Masked()
	hole = hole.Masked()

	if universe.Addr().Is4() != hole.Addr().Is4() {
		return nil, &InvalidAddressError{Input: hole.String(), Reason: "address family differs from " + universe.String()}
	}
	if hole.Bits() <= universe.Bits() || !universe.Contains(hole.Addr()) {
		return nil, &InvalidAddressError{Input: hole.String(), Reason: "not strictly inside " + universe.String()}
	}

	blocks := make([]netip.Prefix, 0, hole.Bits()-universe.Bits())
	current := hole
	for current.Bits() > universe.Bits() {
		blocks = append(blocks, sibling(current))
		current = netip.PrefixFrom(current.Addr(), current.Bits()-1).Masked()
	}

	return blocks, nil
}

// ExcludeAddr parses both arguments and calls Exclude.
func ExcludeAddr(universe, hole string) ([]netip.Prefix, error) {
	u, err := netip.ParsePrefix(strings.TrimSpace(universe))
	if err != nil {
		return nil, &InvalidAddressError{Input: universe, Reason: err.Error()}
	}
	h, err := ParseHole(hole)
	if err != nil {
		return nil, err
	}
	return Exclude(u, h)
}

// ParseHole accepts a bare address, normalized to a host prefix, or a
// prefix with no host bits set.
func ParseHole(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Prefix{}, &InvalidAddressError{Input: s, Reason: "empty address"}
	}

	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, &InvalidAddressError{Input: s, Reason: err.Error()}
		}
		if p.Masked() != p {
			return netip.Prefix{}, &InvalidAddressError{Input: s, Reason: "host bits set"}
		}
		return p, nil
	}

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, &InvalidAddressError{Input: s, Reason: err.Error()}
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// LastHole parses the last element of values. Callers that receive several
// server addresses treat the last one as authoritative.
func LastHole(values []string) (netip.Prefix, error) {
	if len(values) == 0 {
		return netip.Prefix{}, &InvalidAddressError{Reason: "no address given"}
	}
	return ParseHole(values[len(values)-1])
}

// Join renders blocks as a comma separated list.
func Join(blocks []netip.Prefix) string {
	parts := make([]string, len(blocks))
	for i, b := range blocks {
		parts[i] = b.String()
	}
	return strings.Join(parts, ",")
}

// sibling returns the other half of p's parent prefix.
func sibling(p netip.Prefix) netip.Prefix {
	bit := p.Bits() - 1
	if p.Addr().Is4() {
		a := p.Addr().As4()
		a[bit/8] ^= 0x80 >> (bit % 8)
		return netip.PrefixFrom(netip.AddrFrom4(a), p.Bits())
	}
	a := p.Addr().As16()
	a[bit/8] ^= 0x80 >> (bit % 8)
	return netip.PrefixFrom(netip.AddrFrom16(a), p.Bits())
}
