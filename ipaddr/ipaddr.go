// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package ipaddr contains [Addr], a family-tagged IP address value.

An [Addr] stores either an IPv4 or an IPv6 address inside a fixed
16-byte buffer kept in network byte order. The type is comparable and
trivially copyable, so it never allocates on the send/receive paths.

The zero value is an invalid address. Parsing functions fail softly by
returning an invalid [Addr] rather than an error.
*/
package ipaddr

import (
	"net"
	"net/netip"

	"go4.org/netipx"
)

// Family is the address family of an [Addr].
type Family uint8

const (
	// IPv4 is the IPv4 address family.
	IPv4 Family = iota + 1

	// IPv6 is the IPv6 address family.
	IPv6
)

// String returns the string representation of the family.
func (f Family) String() string {
	switch f {
	case IPv4:
		return "IPv4"
	case IPv6:
		return "IPv6"
	default:
		return "unknown"
	}
}

// Addr is an IPv4 or IPv6 address.
//
// The zero value is invalid; construct using the functions in this package.
type Addr struct {
	// buf holds the address in network byte order. IPv4
	// addresses only use the first four bytes.
	buf [16]byte

	// family is the address family.
	family Family

	// valid is true when the address was successfully constructed.
	valid bool
}

// IPv4Unspecified returns the 0.0.0.0 address.
func IPv4Unspecified() Addr {
	return Addr{family: IPv4, valid: true}
}

// IPv6Unspecified returns the :: address.
func IPv6Unspecified() Addr {
	return Addr{family: IPv6, valid: true}
}

// IPv4Loopback returns the 127.0.0.1 address.
func IPv4Loopback() Addr {
	return FromIPv4Bytes([]byte{127, 0, 0, 1})
}

// IPv6Loopback returns the ::1 address.
func IPv6Loopback() Addr {
	a := Addr{family: IPv6, valid: true}
	a.buf[15] = 1
	return a
}

// ParseIPv4 parses a dotted-quad IPv4 address. On failure, it
// returns an invalid IPv4 [Addr].
func ParseIPv4(s string) Addr {
	ip, err := netip.ParseAddr(s)
	if err != nil || !ip.Is4() {
		return Addr{family: IPv4}
	}
	return FromNetipAddr(ip)
}

// ParseIPv6 parses a textual IPv6 address. On failure, it
// returns an invalid IPv6 [Addr].
//
// IPv4-mapped addresses are kept as IPv6 addresses.
func ParseIPv6(s string) Addr {
	ip, err := netip.ParseAddr(s)
	if err != nil || !ip.Is6() || ip.Zone() != "" {
		return Addr{family: IPv6}
	}
	return FromNetipAddr(ip)
}

// Parse parses either an IPv4 or an IPv6 address. On failure, it
// returns the zero [Addr], which is invalid.
func Parse(s string) Addr {
	ip, err := netip.ParseAddr(s)
	if err != nil || ip.Zone() != "" {
		return Addr{}
	}
	return FromNetipAddr(ip)
}

// FromIPv4Bytes constructs an IPv4 [Addr] from exactly four
// bytes in network byte order. Any other length yields an invalid
// IPv4 [Addr].
func FromIPv4Bytes(data []byte) Addr {
	a := Addr{family: IPv4}
	if len(data) != 4 {
		return a
	}
	copy(a.buf[:4], data)
	a.valid = true
	return a
}

// FromIPv6Bytes constructs an IPv6 [Addr] from exactly sixteen
// bytes in network byte order. Any other length yields an invalid
// IPv6 [Addr].
func FromIPv6Bytes(data []byte) Addr {
	a := Addr{family: IPv6}
	if len(data) != 16 {
		return a
	}
	copy(a.buf[:], data)
	a.valid = true
	return a
}

// FromNetipAddr converts a [netip.Addr]. An invalid input, or an
// input carrying an IPv6 zone, yields an invalid [Addr].
func FromNetipAddr(ip netip.Addr) Addr {
	switch {
	case !ip.IsValid() || ip.Zone() != "":
		return Addr{}
	case ip.Is4():
		raw := ip.As4()
		return FromIPv4Bytes(raw[:])
	default:
		raw := ip.As16()
		return FromIPv6Bytes(raw[:])
	}
}

// FromNetIP converts a [net.IP]. IPv4-mapped IPv6 addresses
// become IPv4 addresses, as [net.IP] does not tell them apart.
func FromNetIP(ip net.IP) Addr {
	addr, ok := netipx.FromStdIP(ip)
	if !ok {
		return Addr{}
	}
	return FromNetipAddr(addr)
}

// FromNetAddr converts a [net.Addr] into an [Addr] and a port.
//
// For [*net.TCPAddr] and [*net.UDPAddr] addresses, returns their
// address and port. If the input is nil or has another type, returns
// an invalid [Addr] and port 0.
func FromNetAddr(addr net.Addr) (Addr, uint16) {
	var ap netip.AddrPort
	switch v := addr.(type) {
	case *net.TCPAddr:
		ap = v.AddrPort()
	case *net.UDPAddr:
		ap = v.AddrPort()
	default:
		return Addr{}, 0
	}
	return FromNetipAddr(ap.Addr().Unmap()), ap.Port()
}

// Family returns the address family. The family of an invalid
// address produced by [ParseIPv4] or [ParseIPv6] is still set.
func (a Addr) Family() Family {
	return a.family
}

// IsValid returns whether this is a valid address.
func (a Addr) IsValid() bool {
	return a.valid
}

// IPv4Bytes returns the four address bytes in network byte order.
//
// The result is meaningful only for valid IPv4 addresses.
func (a Addr) IPv4Bytes() [4]byte {
	return [4]byte(a.buf[:4])
}

// IPv6Bytes returns the sixteen address bytes in network byte order.
//
// The result is meaningful only for valid IPv6 addresses.
func (a Addr) IPv6Bytes() [16]byte {
	return a.buf
}

// Netip converts to [netip.Addr]. An invalid [Addr] becomes
// the zero [netip.Addr].
func (a Addr) Netip() netip.Addr {
	switch {
	case !a.valid:
		return netip.Addr{}
	case a.family == IPv4:
		return netip.AddrFrom4(a.IPv4Bytes())
	default:
		return netip.AddrFrom16(a.buf)
	}
}

// IsUnspecified returns whether this is 0.0.0.0 or ::.
func (a Addr) IsUnspecified() bool {
	return a.valid && a.Netip().IsUnspecified()
}

// IsLoopback returns whether this is a loopback address.
func (a Addr) IsLoopback() bool {
	return a.valid && a.Netip().IsLoopback()
}

// Equal returns true when both addresses are valid, have
// the same family and contain the same bytes.
func (a Addr) Equal(other Addr) bool {
	return a.valid && other.valid && a.family == other.family && a.buf == other.buf
}

// String returns the textual representation of the address.
func (a Addr) String() string {
	if !a.valid {
		return "<invalid IP address>"
	}
	return a.Netip().String()
}
