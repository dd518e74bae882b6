//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Socket calls.
//

package vstack

import (
	"net/netip"
	"syscall"
	"time"

	"github.com/rbmk-project/vsock/sockaddr"
	"github.com/rbmk-project/vsock/vstack/packet"
)

// connectTimeout bounds the TCP handshake.
const connectTimeout = 10 * time.Second

// Socket creates a new descriptor. The protocol must be zero or
// match the socket type ([IPProtoTCP] for streams, [IPProtoUDP]
// for datagrams).
func (n *Node) Socket(family, stype, protocol int) (int, syscall.Errno) {
	if n.running() == nil {
		return ErrService, ENETDOWN
	}
	if family != AFInet && family != AFInet6 {
		return ErrSocket, EAFNOSUPPORT
	}
	switch stype {
	case SockStream:
		if protocol != 0 && protocol != IPProtoTCP {
			return ErrSocket, EPROTONOSUPPORT
		}
	case SockDgram:
		if protocol != 0 && protocol != IPProtoUDP {
			return ErrSocket, EPROTONOSUPPORT
		}
	case SockRaw:
		return ErrSocket, EPROTONOSUPPORT
	default:
		return ErrSocket, EINVAL
	}
	return n.newDescriptor(&port{domain: family, stype: stype}), 0
}

// acquire returns the port for a descriptor of a running node.
func (n *Node) acquire(fd int) (*port, int, syscall.Errno) {
	if n.running() == nil {
		return nil, ErrService, ENETDOWN
	}
	p, found := n.lookup(fd)
	if !found {
		return nil, ErrSocket, EBADF
	}
	return p, ErrOK, 0
}

// decodeAddr validates and decodes a caller-provided sockaddr.
func decodeAddr(p *port, addr *sockaddr.RawSockaddrAny, addrlen uint32) (netip.AddrPort, int, syscall.Errno) {
	if addr == nil {
		return netip.AddrPort{}, ErrArg, EINVAL
	}
	size := addr.Size()
	if size <= 0 {
		return netip.AddrPort{}, ErrSocket, EAFNOSUPPORT
	}
	if addrlen < size {
		return netip.AddrPort{}, ErrArg, EINVAL
	}
	if int(addr.Family) != p.domain {
		return netip.AddrPort{}, ErrSocket, EAFNOSUPPORT
	}
	return addr.AddrPort(), ErrOK, 0
}

// encodeAddr writes ap into the optional caller-provided sockaddr.
func encodeAddr(ap netip.AddrPort, addr *sockaddr.RawSockaddrAny, addrlen *uint32) {
	if addr == nil {
		return
	}
	*addr = sockaddr.FromAddrPort(ap)
	if addrlen != nil {
		*addrlen = addr.Size()
	}
}

// Bind assigns a local address. Port zero selects an ephemeral port.
func (n *Node) Bind(fd int, addr *sockaddr.RawSockaddrAny, addrlen uint32) (int, syscall.Errno) {
	p, rc, errno := n.acquire(fd)
	if rc != ErrOK {
		return rc, errno
	}
	ap, rc, errno := decodeAddr(p, addr, addrlen)
	if rc != ErrOK {
		return rc, errno
	}
	if rt := n.routing.Load(); !ap.Addr().IsUnspecified() && !rt.isLocal(ap.Addr()) {
		return ErrSocket, EADDRNOTAVAIL
	}

	n.portmu.Lock()
	defer n.portmu.Unlock()
	if p.down {
		return ErrSocket, ENETDOWN
	}
	if p.bound() {
		return ErrSocket, EINVAL
	}
	lport := ap.Port()
	if lport == 0 {
		if lport, errno = n.ephemeralLocked(p.protocol()); errno != 0 {
			return ErrSocket, errno
		}
	}
	key := PortAddr{LocalAddr: netip.AddrPortFrom(ap.Addr(), lport), Protocol: p.protocol()}
	if n.portInUseLocked(key) {
		return ErrSocket, EADDRINUSE
	}
	return ErrOK, n.registerLocked(p, key)
}

// Connect sets the default peer of a datagram socket or performs the
// TCP handshake for a stream socket. The handshake always blocks.
func (n *Node) Connect(fd int, addr *sockaddr.RawSockaddrAny, addrlen uint32) (int, syscall.Errno) {
	p, rc, errno := n.acquire(fd)
	if rc != ErrOK {
		return rc, errno
	}
	raddr, rc, errno := decodeAddr(p, addr, addrlen)
	if rc != ErrOK {
		return rc, errno
	}
	if raddr.Addr().IsUnspecified() || raddr.Port() == 0 {
		return ErrSocket, EADDRNOTAVAIL
	}
	src, errno := n.sourceFor(raddr.Addr())
	if errno != 0 {
		return ErrSocket, errno
	}

	n.portmu.Lock()
	if errno := n.connectLocked(p, src, raddr); errno != 0 {
		n.portmu.Unlock()
		return ErrSocket, errno
	}
	if p.stype == SockDgram {
		n.portmu.Unlock()
		return ErrOK, 0
	}
	syn := &packet.Packet{
		TTL:        packet.DefaultTTL,
		SrcAddr:    p.addr.LocalAddr.Addr(),
		DstAddr:    raddr.Addr(),
		IPProtocol: packet.IPProtocolTCP,
		SrcPort:    p.addr.LocalAddr.Port(),
		DstPort:    raddr.Port(),
		Flags:      packet.TCPFlagSYN,
	}
	n.portmu.Unlock()

	errno = n.transmit(syn, true)

	n.portmu.Lock()
	defer n.portmu.Unlock()
	if errno == 0 {
		errno = n.awaitHandshakeLocked(p)
	}
	if errno != 0 && !p.closed {
		p.connecting = false
		n.unregisterLocked(p)
		p.addr = PortAddr{}
	}
	if errno != 0 {
		return ErrSocket, errno
	}
	return ErrOK, 0
}

// connectLocked registers p under its five tuple.
//
// The caller must hold portmu.
func (n *Node) connectLocked(p *port, src netip.Addr, raddr netip.AddrPort) syscall.Errno {
	switch {
	case p.down:
		return ENETDOWN
	case p.listening:
		return EINVAL
	case p.stype == SockStream && p.connected:
		return EISCONN
	case p.connecting:
		return EINVAL
	}

	laddr := p.addr.LocalAddr
	if !p.bound() {
		lport, errno := n.ephemeralLocked(p.protocol())
		if errno != 0 {
			return errno
		}
		laddr = netip.AddrPortFrom(src, lport)
	} else if laddr.Addr().IsUnspecified() && p.stype == SockStream {
		laddr = netip.AddrPortFrom(src, laddr.Port())
	}

	key := PortAddr{LocalAddr: laddr, Protocol: p.protocol(), RemoteAddr: raddr}
	if other, found := n.ports[key]; found && other != p {
		return EADDRINUSE
	}
	n.unregisterLocked(p)
	if errno := n.registerLocked(p, key); errno != 0 {
		return errno
	}
	if p.stype == SockDgram {
		p.connected = true
		return 0
	}
	p.connecting = true
	p.softErr = 0
	return 0
}

// awaitHandshakeLocked waits for the handshake to complete.
//
// The caller must hold portmu.
func (n *Node) awaitHandshakeLocked(p *port) syscall.Errno {
	timer := time.NewTimer(connectTimeout)
	defer timer.Stop()
	for {
		switch {
		case p.closed:
			return EBADF
		case p.down:
			return ENETDOWN
		case p.connected:
			return 0
		case p.softErr != 0:
			return p.softErr
		}
		if !n.waitLocked(timer.C) {
			return ETIMEDOUT
		}
	}
}

// Listen marks a stream socket as listening. An unbound socket
// is bound to an ephemeral port on the unspecified address.
func (n *Node) Listen(fd, backlog int) (int, syscall.Errno) {
	p, rc, errno := n.acquire(fd)
	if rc != ErrOK {
		return rc, errno
	}

	n.portmu.Lock()
	defer n.portmu.Unlock()
	switch {
	case p.down:
		return ErrSocket, ENETDOWN
	case p.stype != SockStream:
		return ErrSocket, EOPNOTSUPP
	case p.connected || p.connecting:
		return ErrSocket, EINVAL
	}
	if !p.bound() {
		lport, errno := n.ephemeralLocked(packet.IPProtocolTCP)
		if errno != 0 {
			return ErrSocket, errno
		}
		key := PortAddr{LocalAddr: netip.AddrPortFrom(p.unspecified(), lport), Protocol: packet.IPProtocolTCP}
		if errno := n.registerLocked(p, key); errno != 0 {
			return ErrSocket, errno
		}
	}
	p.backlog = min(max(backlog, 1), MaxBacklog)
	p.listening = true
	return ErrOK, 0
}

// Accept returns the descriptor of the next established connection
// and writes the peer address into the optional addr.
func (n *Node) Accept(fd int, addr *sockaddr.RawSockaddrAny, addrlen *uint32) (int, syscall.Errno) {
	p, rc, errno := n.acquire(fd)
	if rc != ErrOK {
		return rc, errno
	}

	n.portmu.Lock()
	switch {
	case p.stype != SockStream:
		n.portmu.Unlock()
		return ErrSocket, EOPNOTSUPP
	case !p.listening:
		n.portmu.Unlock()
		return ErrSocket, EINVAL
	}
	for len(p.pending) <= 0 {
		errno := syscall.Errno(0)
		switch {
		case p.closed:
			errno = EBADF
		case p.down:
			errno = ENETDOWN
		case p.nonblock:
			errno = EAGAIN
		}
		if errno != 0 {
			n.portmu.Unlock()
			return ErrSocket, errno
		}
		n.waitLocked(nil)
	}
	child := p.pending[0]
	p.pending = p.pending[1:]
	raddr := child.addr.RemoteAddr
	n.portmu.Unlock()

	encodeAddr(raddr, addr, addrlen)
	return n.newDescriptor(child), 0
}

// Send sends data on a connected socket.
func (n *Node) Send(fd int, data []byte, flags int) (int, syscall.Errno) {
	return n.SendTo(fd, data, flags, nil, 0)
}

// SendTo sends data to addr or, when addr is nil, to the connected peer.
// A datagram socket that is not bound is bound to an ephemeral port.
func (n *Node) SendTo(fd int, data []byte, flags int,
	addr *sockaddr.RawSockaddrAny, addrlen uint32) (int, syscall.Errno) {
	p, rc, errno := n.acquire(fd)
	if rc != ErrOK {
		return rc, errno
	}
	var dst netip.AddrPort
	if addr != nil {
		if dst, rc, errno = decodeAddr(p, addr, addrlen); rc != ErrOK {
			return rc, errno
		}
	}

	n.portmu.Lock()
	pkt, errno := n.outgoingLocked(p, data, dst)
	nonblock := p.nonblock || flags&MsgDontWait != 0
	n.portmu.Unlock()
	if errno != 0 {
		return ErrSocket, errno
	}

	errno = n.transmit(pkt, !nonblock)
	if errno == ENOBUFS && nonblock {
		errno = EAGAIN
	}
	if errno != 0 {
		return ErrSocket, errno
	}
	return len(data), 0
}

// outgoingLocked builds the packet carrying data.
//
// The caller must hold portmu.
func (n *Node) outgoingLocked(p *port, data []byte, dst netip.AddrPort) (*packet.Packet, syscall.Errno) {
	if p.down {
		return nil, ENETDOWN
	}
	pkt := &packet.Packet{
		TTL:        packet.DefaultTTL,
		IPProtocol: p.protocol(),
		Payload:    append([]byte(nil), data...),
	}

	if p.stype == SockStream {
		switch {
		case dst.IsValid() && p.connected:
			return nil, EISCONN
		case p.reset:
			return nil, ECONNRESET
		case !p.connected:
			return nil, ENOTCONN
		}
		pkt.Flags = packet.TCPFlagPSH | packet.TCPFlagACK
		pkt.SrcAddr, pkt.SrcPort = p.addr.LocalAddr.Addr(), p.addr.LocalAddr.Port()
		pkt.DstAddr, pkt.DstPort = p.addr.RemoteAddr.Addr(), p.addr.RemoteAddr.Port()
		return pkt, 0
	}

	if len(data) > MaxDatagramSize {
		return nil, EMSGSIZE
	}
	if !dst.IsValid() {
		if !p.connected {
			return nil, EDESTADDRREQ
		}
		dst = p.addr.RemoteAddr
	}
	if dst.Addr().IsUnspecified() || dst.Port() == 0 {
		return nil, EINVAL
	}
	if !p.bound() {
		lport, errno := n.ephemeralLocked(packet.IPProtocolUDP)
		if errno != 0 {
			return nil, errno
		}
		key := PortAddr{LocalAddr: netip.AddrPortFrom(p.unspecified(), lport), Protocol: packet.IPProtocolUDP}
		if errno := n.registerLocked(p, key); errno != 0 {
			return nil, errno
		}
	}
	src := p.addr.LocalAddr.Addr()
	if src.IsUnspecified() {
		var errno syscall.Errno
		if src, errno = n.sourceFor(dst.Addr()); errno != 0 {
			return nil, errno
		}
	}
	pkt.SrcAddr, pkt.SrcPort = src, p.addr.LocalAddr.Port()
	pkt.DstAddr, pkt.DstPort = dst.Addr(), dst.Port()
	return pkt, 0
}

// Recv receives data from a socket.
func (n *Node) Recv(fd int, buf []byte, flags int) (int, syscall.Errno) {
	return n.RecvFrom(fd, buf, flags, nil, nil)
}

// RecvFrom receives data and writes the sender address into the
// optional addr. Datagrams larger than buf are truncated. For
// streams, zero means the peer closed the connection.
func (n *Node) RecvFrom(fd int, buf []byte, flags int,
	addr *sockaddr.RawSockaddrAny, addrlen *uint32) (int, syscall.Errno) {
	p, rc, errno := n.acquire(fd)
	if rc != ErrOK {
		return rc, errno
	}

	n.portmu.Lock()
	nonblock := p.nonblock || flags&MsgDontWait != 0
	count, from, errno := n.recvLocked(p, buf, nonblock)
	n.portmu.Unlock()
	if errno != 0 {
		return ErrSocket, errno
	}
	encodeAddr(from, addr, addrlen)
	return count, 0
}

// recvLocked waits for and consumes incoming data.
//
// The caller must hold portmu.
func (n *Node) recvLocked(p *port, buf []byte, nonblock bool) (int, netip.AddrPort, syscall.Errno) {
	for {
		switch {
		case p.closed:
			return 0, netip.AddrPort{}, EBADF
		case p.down:
			return 0, netip.AddrPort{}, ENETDOWN
		}

		if p.stype == SockStream {
			if !p.connected {
				return 0, netip.AddrPort{}, ENOTCONN
			}
			if p.stream.Len() > 0 {
				count, _ := p.stream.Read(buf)
				return count, p.addr.RemoteAddr, 0
			}
			if p.reset {
				return 0, netip.AddrPort{}, ECONNRESET
			}
			if p.eof {
				return 0, p.addr.RemoteAddr, 0
			}
		} else if len(p.dgrams) > 0 {
			pkt := p.dgrams[0]
			p.dgrams[0] = nil
			p.dgrams = p.dgrams[1:]
			return copy(buf, pkt.Payload), pkt.Src(), 0
		}

		if nonblock {
			return 0, netip.AddrPort{}, EAGAIN
		}
		n.waitLocked(nil)
	}
}

// Close releases a descriptor. Connected streams send FIN and
// connections waiting in the accept queue are reset.
func (n *Node) Close(fd int) (int, syscall.Errno) {
	p, found := n.fds.LoadAndDelete(fd)
	if !found {
		return ErrSocket, EBADF
	}

	var replies []*packet.Packet
	n.portmu.Lock()
	p.closed = true
	if p.stype == SockStream && p.connected && !p.reset && !p.down {
		replies = append(replies, &packet.Packet{
			TTL:        packet.DefaultTTL,
			SrcAddr:    p.addr.LocalAddr.Addr(),
			DstAddr:    p.addr.RemoteAddr.Addr(),
			IPProtocol: packet.IPProtocolTCP,
			SrcPort:    p.addr.LocalAddr.Port(),
			DstPort:    p.addr.RemoteAddr.Port(),
			Flags:      packet.TCPFlagFIN | packet.TCPFlagACK,
		})
	}
	for _, child := range p.pending {
		child.closed = true
		n.unregisterLocked(child)
		replies = append(replies, &packet.Packet{
			TTL:        packet.DefaultTTL,
			SrcAddr:    child.addr.LocalAddr.Addr(),
			DstAddr:    child.addr.RemoteAddr.Addr(),
			IPProtocol: packet.IPProtocolTCP,
			SrcPort:    child.addr.LocalAddr.Port(),
			DstPort:    child.addr.RemoteAddr.Port(),
			Flags:      packet.TCPFlagRST,
		})
	}
	p.pending = nil
	p.dgrams = nil
	n.unregisterLocked(p)
	n.broadcastLocked()
	n.portmu.Unlock()

	for _, pkt := range replies {
		n.transmit(pkt, false)
	}
	return ErrOK, 0
}

// GetSockName writes the local address into addr. An unbound
// socket reports the unspecified address and port zero.
func (n *Node) GetSockName(fd int, addr *sockaddr.RawSockaddrAny, addrlen *uint32) (int, syscall.Errno) {
	p, rc, errno := n.acquire(fd)
	if rc != ErrOK {
		return rc, errno
	}
	if addr == nil {
		return ErrArg, EINVAL
	}
	n.portmu.Lock()
	local := p.addr.LocalAddr
	if !p.bound() {
		local = netip.AddrPortFrom(p.unspecified(), 0)
	}
	n.portmu.Unlock()
	encodeAddr(local, addr, addrlen)
	return ErrOK, 0
}

// GetPeerName writes the peer address into addr.
func (n *Node) GetPeerName(fd int, addr *sockaddr.RawSockaddrAny, addrlen *uint32) (int, syscall.Errno) {
	p, rc, errno := n.acquire(fd)
	if rc != ErrOK {
		return rc, errno
	}
	if addr == nil {
		return ErrArg, EINVAL
	}
	n.portmu.Lock()
	connected, remote := p.connected, p.addr.RemoteAddr
	n.portmu.Unlock()
	if !connected {
		return ErrSocket, ENOTCONN
	}
	encodeAddr(remote, addr, addrlen)
	return ErrOK, 0
}

// Poll waits for events on the given descriptors. A zero timeout
// probes, a negative timeout waits forever. [PollErr], [PollHup]
// and [PollNval] are always reported. It returns the number of
// entries with nonzero Revents.
func (n *Node) Poll(fds []PollFD, timeoutMs int) (int, syscall.Errno) {
	if len(fds) <= 0 {
		return ErrArg, EINVAL
	}
	var timeout <-chan time.Time
	if timeoutMs > 0 {
		timer := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
		defer timer.Stop()
		timeout = timer.C
	}

	n.portmu.Lock()
	defer n.portmu.Unlock()
	for {
		count := 0
		for idx := range fds {
			entry := &fds[idx]
			entry.Revents = PollNval
			if p, found := n.lookup(entry.FD); found {
				entry.Revents = p.readinessLocked() & (entry.Events | PollErr | PollHup | PollNval)
			}
			if entry.Revents != 0 {
				count++
			}
		}
		if count > 0 || timeoutMs == 0 {
			return count, 0
		}
		if !n.waitLocked(timeout) {
			return 0, 0
		}
	}
}

// Fcntl gets ([FGetFL]) or sets ([FSetFL]) the descriptor flags.
// The only supported flag is [ONonBlock].
func (n *Node) Fcntl(fd, cmd, flags int) (int, syscall.Errno) {
	p, found := n.lookup(fd)
	if !found {
		return ErrSocket, EBADF
	}
	n.portmu.Lock()
	defer n.portmu.Unlock()
	switch cmd {
	case FGetFL:
		if p.nonblock {
			return ONonBlock, 0
		}
		return 0, 0
	case FSetFL:
		p.nonblock = flags&ONonBlock != 0
		return ErrOK, 0
	default:
		return ErrArg, EINVAL
	}
}
