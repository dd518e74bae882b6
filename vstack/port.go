//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// TCP/UDP port implementation.
//

package vstack

import (
	"bytes"
	"fmt"
	"net/netip"
	"syscall"

	"github.com/rbmk-project/vsock/vstack/packet"
)

// PortAddr is the address under which a [*port] is registered.
type PortAddr struct {
	// LocalAddr is the local address. The address may be
	// unspecified but the port is always nonzero.
	LocalAddr netip.AddrPort

	// Protocol is the port protocol.
	Protocol packet.IPProtocol

	// RemoteAddr is the remote address. This field
	// is zero for non-connected ports.
	RemoteAddr netip.AddrPort
}

// String returns the string representation of the [*PortAddr].
func (pa *PortAddr) String() string {
	raddr := pa.RemoteAddr.String()
	if !pa.RemoteAddr.IsValid() {
		raddr = "*:*"
	}
	return fmt.Sprintf("%s -> %s %s", pa.LocalAddr, raddr, pa.Protocol)
}

// port is the state behind a socket descriptor.
//
// All fields are protected by the owning node's port mutex.
type port struct {
	// domain is [AFInet] or [AFInet6].
	domain int

	// stype is [SockStream] or [SockDgram].
	stype int

	// addr is the registered address, valid when registered is true.
	addr PortAddr

	// registered is true when addr is in the port table.
	registered bool

	// connected is true for established streams and for
	// datagram ports with a default peer.
	connected bool

	// connecting is true while a stream waits for SYN|ACK.
	connecting bool

	// listening is true for listening streams.
	listening bool

	// backlog is the listen backlog.
	backlog int

	// pending is the accept queue of a listening stream.
	pending []*port

	// nonblock is the O_NONBLOCK flag.
	nonblock bool

	// closed is true once the descriptor has been closed.
	closed bool

	// down is true once the node stopped.
	down bool

	// eof is true once the peer sent FIN.
	eof bool

	// reset is true once the peer sent RST.
	reset bool

	// softErr is the error to report for a failed connect.
	softErr syscall.Errno

	// dgrams is the datagram receive queue.
	dgrams []*packet.Packet

	// stream is the stream receive buffer.
	stream bytes.Buffer
}

// protocol returns the IP protocol for the port type.
func (p *port) protocol() packet.IPProtocol {
	if p.stype == SockStream {
		return packet.IPProtocolTCP
	}
	return packet.IPProtocolUDP
}

// bound returns whether the port has a local address.
func (p *port) bound() bool {
	return p.registered || p.addr.LocalAddr.Port() != 0
}

// unspecified returns the unspecified address of the port family.
func (p *port) unspecified() netip.Addr {
	if p.domain == AFInet6 {
		return netip.IPv6Unspecified()
	}
	return netip.IPv4Unspecified()
}

// matchesFamily returns whether addr belongs to the port family.
func (p *port) matchesFamily(addr netip.Addr) bool {
	return addr.Is4() == (p.domain == AFInet)
}

// readinessLocked returns the poll bits that currently hold.
func (p *port) readinessLocked() int16 {
	switch {
	case p.closed:
		return PollNval
	case p.down:
		return PollErr | PollHup
	case p.reset:
		return PollErr | PollHup
	}

	var revents int16
	switch {
	case p.listening:
		if len(p.pending) > 0 {
			revents |= PollIn
		}

	case p.stype == SockStream:
		if p.stream.Len() > 0 || p.eof {
			revents |= PollIn
		}
		if p.eof && p.stream.Len() <= 0 {
			revents |= PollHup
		}
		if p.connected {
			revents |= PollOut
		}

	default:
		if len(p.dgrams) > 0 {
			revents |= PollIn
		}
		revents |= PollOut
	}
	return revents
}
