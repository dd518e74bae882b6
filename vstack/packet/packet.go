// SPDX-License-Identifier: GPL-3.0-or-later

// Package packet contains [*Packet] and the related definitions.
package packet

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// IPProtocol is the protocol number of an IP packet.
type IPProtocol uint8

// String returns the string representation of the IP protocol.
func (p IPProtocol) String() string {
	switch p {
	case IPProtocolTCP:
		return "tcp"

	case IPProtocolUDP:
		return "udp"

	default:
		return "unknown"
	}
}

const (
	// IPProtocolTCP is the TCP protocol number.
	IPProtocolTCP = IPProtocol(6)

	// IPProtocolUDP is the UDP protocol number.
	IPProtocolUDP = IPProtocol(17)
)

// TCPFlags is a set of TCP flags.
type TCPFlags uint8

// flagNames maps each flag bit to its single-letter name.
var flagNames = []struct {
	flag TCPFlags
	name string
}{
	{TCPFlagFIN, "F"},
	{TCPFlagSYN, "S"},
	{TCPFlagRST, "R"},
	{TCPFlagPSH, "P"},
	{TCPFlagACK, "A"},
}

// String returns the string representation of the TCP flags
// using one letter per set flag and a dot for unset flags.
func (flags TCPFlags) String() string {
	var builder strings.Builder
	for _, entry := range flagNames {
		if flags&entry.flag != 0 {
			builder.WriteString(entry.name)
			continue
		}
		builder.WriteString(".")
	}
	return builder.String()
}

const (
	// TCPFlagFIN is the FIN flag.
	TCPFlagFIN = TCPFlags(1)

	// TCPFlagSYN is the SYN flag.
	TCPFlagSYN = TCPFlags(2)

	// TCPFlagRST is the RST flag.
	TCPFlagRST = TCPFlags(4)

	// TCPFlagPSH is the PSH flag.
	TCPFlagPSH = TCPFlags(8)

	// TCPFlagACK is the ACK flag.
	TCPFlagACK = TCPFlags(16)
)

// DefaultTTL is the TTL assigned to newly created packets.
const DefaultTTL = 64

// Packet is a network packet.
type Packet struct {
	// TTL is the number of hops the packet may still traverse.
	TTL uint8

	// SrcAddr is the source address.
	SrcAddr netip.Addr

	// DstAddr is the destination address.
	DstAddr netip.Addr

	// IPProtocol is the protocol number.
	IPProtocol IPProtocol

	// SrcPort is the source port.
	SrcPort uint16

	// DstPort is the destination port.
	DstPort uint16

	// Flags is the set of TCP flags. Unused for UDP.
	Flags TCPFlags

	// Payload is the packet payload.
	Payload []byte
}

// Src returns the source address and port.
func (p *Packet) Src() netip.AddrPort {
	return netip.AddrPortFrom(p.SrcAddr, p.SrcPort)
}

// Dst returns the destination address and port.
func (p *Packet) Dst() netip.AddrPort {
	return netip.AddrPortFrom(p.DstAddr, p.DstPort)
}

// Reply creates a payload-less packet flowing in the opposite
// direction, as needed to answer a TCP segment.
func (p *Packet) Reply(flags TCPFlags) *Packet {
	return &Packet{
		TTL:        DefaultTTL,
		SrcAddr:    p.DstAddr,
		DstAddr:    p.SrcAddr,
		IPProtocol: p.IPProtocol,
		SrcPort:    p.DstPort,
		DstPort:    p.SrcPort,
		Flags:      flags,
	}
}

// String returns the string representation of the packet.
func (p *Packet) String() string {
	src := net.JoinHostPort(p.SrcAddr.String(), fmt.Sprintf("%d", p.SrcPort))
	dst := net.JoinHostPort(p.DstAddr.String(), fmt.Sprintf("%d", p.DstPort))
	if p.IPProtocol == IPProtocolTCP {
		return fmt.Sprintf("%s -> %s %s flags=%s length=%d",
			src, dst, p.IPProtocol, p.Flags, len(p.Payload))
	}
	return fmt.Sprintf("%s -> %s %s length=%d", src, dst, p.IPProtocol, len(p.Payload))
}

// NetworkDevice is a network device to read/write [*Packet].
type NetworkDevice interface {
	// Addresses returns the addresses currently assigned to the device.
	Addresses() []netip.Addr

	// EOF returns a channel that is closed when the device is closed.
	EOF() <-chan struct{}

	// Input returns a channel to send [*Packet] to the device.
	Input() chan<- *Packet

	// Output returns a channel to receive [*Packet] from the device.
	Output() <-chan *Packet
}
