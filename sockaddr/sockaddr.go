// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package sockaddr converts between [ipaddr.Addr] plus port pairs and the
fixed-size wire sockaddr layouts used by the vstack socket calls.

The layouts follow the BSD convention (a leading length byte followed by
a one byte family) with the port and the address in network byte order.
[RawSockaddrAny] is large enough to hold any supported address, and its
[RawSockaddrAny.Inet4] and [RawSockaddrAny.Inet6] methods return typed
views over the same memory.
*/
package sockaddr

import (
	"net/netip"
	"unsafe"

	"github.com/rbmk-project/vsock/ipaddr"
)

// Address families.
const (
	AFUnspec = 0
	AFInet   = 2
	AFInet6  = 10
)

// Layout sizes.
const (
	SizeofSockaddrInet4 = 16
	SizeofSockaddrInet6 = 28
	SizeofSockaddrAny   = 128
)

// RawSockaddrInet4 is the IPv4 sockaddr layout.
type RawSockaddrInet4 struct {
	Len    uint8
	Family uint8
	Port   uint16 // network byte order
	Addr   [4]byte
	Zero   [8]uint8
}

// RawSockaddrInet6 is the IPv6 sockaddr layout.
type RawSockaddrInet6 struct {
	Len      uint8
	Family   uint8
	Port     uint16 // network byte order
	Flowinfo uint32
	Addr     [16]byte
	ScopeID  uint32
}

// RawSockaddrAny is storage large enough for any sockaddr layout.
type RawSockaddrAny struct {
	_      [0]uint32
	Len    uint8
	Family uint8
	Data   [SizeofSockaddrAny - 2]byte
}

// Ensure the layouts have the expected sizes.
var (
	_ [SizeofSockaddrInet4]byte = [unsafe.Sizeof(RawSockaddrInet4{})]byte{}
	_ [SizeofSockaddrInet6]byte = [unsafe.Sizeof(RawSockaddrInet6{})]byte{}
	_ [SizeofSockaddrAny]byte   = [unsafe.Sizeof(RawSockaddrAny{})]byte{}
)

// putPort stores port into dst using network byte order.
func putPort(dst *uint16, port uint16) {
	p := (*[2]byte)(unsafe.Pointer(dst))
	p[0] = byte(port >> 8)
	p[1] = byte(port)
}

// getPort loads a network byte order port.
func getPort(src *uint16) uint16 {
	p := (*[2]byte)(unsafe.Pointer(src))
	return uint16(p[0])<<8 | uint16(p[1])
}

// SetPort sets the port using host byte order.
func (sa *RawSockaddrInet4) SetPort(port uint16) { putPort(&sa.Port, port) }

// PortNumber returns the port in host byte order.
func (sa *RawSockaddrInet4) PortNumber() uint16 { return getPort(&sa.Port) }

// SetPort sets the port using host byte order.
func (sa *RawSockaddrInet6) SetPort(port uint16) { putPort(&sa.Port, port) }

// PortNumber returns the port in host byte order.
func (sa *RawSockaddrInet6) PortNumber() uint16 { return getPort(&sa.Port) }

// Inet4 returns an IPv4 view or nil if the family is not [AFInet].
func (sa *RawSockaddrAny) Inet4() *RawSockaddrInet4 {
	if sa.Family != AFInet {
		return nil
	}
	return (*RawSockaddrInet4)(unsafe.Pointer(sa))
}

// Inet6 returns an IPv6 view or nil if the family is not [AFInet6].
func (sa *RawSockaddrAny) Inet6() *RawSockaddrInet6 {
	if sa.Family != AFInet6 {
		return nil
	}
	return (*RawSockaddrInet6)(unsafe.Pointer(sa))
}

// Size returns the length of the layout selected by the family,
// or zero when the family is not supported.
func (sa *RawSockaddrAny) Size() uint32 {
	switch sa.Family {
	case AFInet:
		return SizeofSockaddrInet4
	case AFInet6:
		return SizeofSockaddrInet6
	default:
		return 0
	}
}

// FromAddr encodes addr and port. It returns false, and the zero
// value, when addr is not valid.
func FromAddr(addr ipaddr.Addr, port uint16) (RawSockaddrAny, bool) {
	var sa RawSockaddrAny
	if !addr.IsValid() {
		return sa, false
	}
	switch addr.Family() {
	case ipaddr.IPv4:
		in4 := (*RawSockaddrInet4)(unsafe.Pointer(&sa))
		in4.Len = SizeofSockaddrInet4
		in4.Family = AFInet
		in4.SetPort(port)
		in4.Addr = addr.IPv4Bytes()
	default:
		in6 := (*RawSockaddrInet6)(unsafe.Pointer(&sa))
		in6.Len = SizeofSockaddrInet6
		in6.Family = AFInet6
		in6.SetPort(port)
		in6.Addr = addr.IPv6Bytes()
	}
	return sa, true
}

// ToAddr decodes the address and port. An unsupported family
// yields an invalid [ipaddr.Addr] and port zero.
func (sa *RawSockaddrAny) ToAddr() (ipaddr.Addr, uint16) {
	if in4 := sa.Inet4(); in4 != nil {
		return ipaddr.FromIPv4Bytes(in4.Addr[:]), in4.PortNumber()
	}
	if in6 := sa.Inet6(); in6 != nil {
		return ipaddr.FromIPv6Bytes(in6.Addr[:]), in6.PortNumber()
	}
	return ipaddr.Addr{}, 0
}

// AddrPort decodes into a [netip.AddrPort]. An unsupported
// family yields the zero [netip.AddrPort].
func (sa *RawSockaddrAny) AddrPort() netip.AddrPort {
	addr, port := sa.ToAddr()
	if !addr.IsValid() {
		return netip.AddrPort{}
	}
	return netip.AddrPortFrom(addr.Netip(), port)
}

// FromAddrPort encodes a [netip.AddrPort]. An IPv4-mapped IPv6
// address is encoded as [AFInet6]. An invalid input yields the
// zero value, whose family is [AFUnspec].
func FromAddrPort(ap netip.AddrPort) RawSockaddrAny {
	sa, _ := FromAddr(ipaddr.FromNetipAddr(ap.Addr()), ap.Port())
	return sa
}
