//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Node: descriptor table, port table and packet demux.
//

package vstack

import (
	"io"
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rbmk-project/vsock/vstack/packet"
	bolt "go.etcd.io/bbolt"
	"go4.org/netipx"
)

// Node is a userspace network stack attached to a [*Fabric].
//
// The zero value is invalid; construct using [NewNode].
type Node struct {
	// Logger is the optional logger. Set it before calling Start.
	Logger *slog.Logger

	// fabric is the overlay the node joins networks on.
	fabric *Fabric

	// fds maps descriptors to ports.
	fds *xsync.MapOf[int, *port]

	// nextfd is the next descriptor number.
	nextfd atomic.Int64

	// portmu protects ports, nextport, notify and the
	// state of every [*port] owned by this node.
	portmu sync.Mutex

	// ports is the port table.
	ports map[PortAddr]*port

	// nextport tracks the next ephemeral port per protocol.
	nextport map[packet.IPProtocol]uint16

	// notify is closed and replaced whenever any port changes.
	notify chan struct{}

	// routing is the current addressing snapshot.
	routing atomic.Pointer[routing]

	// mu protects the lifecycle fields below.
	mu sync.Mutex

	// state is the lifecycle state.
	state nodeState

	// opts contains the configuration toggles.
	opts options

	// id is the 40-bit node identity.
	id uint64

	// path is the storage path passed to Start.
	path string

	// primaryPort is the port passed to Start.
	primaryPort uint16

	// mtu is the interface MTU.
	mtu int

	// callback receives the events.
	callback func(*EventMessage)

	// dbmu protects db.
	dbmu sync.Mutex

	// db is the storage database, if open.
	db *bolt.DB

	// peerCaching enables storing the known peers.
	peerCaching atomic.Bool

	// info is the node payload published at Start.
	info atomic.Pointer[NodeInfo]

	// networks contains the joined networks.
	networks map[uint64]*membership

	// sess is the running session or nil.
	sess *session
}

// nodeState is the lifecycle state of a [*Node].
type nodeState int

const (
	nodeStopped = nodeState(iota)
	nodeRunning
	nodeFreed
)

// options contains the configuration toggles.
type options struct {
	localStorage   bool
	networkCaching bool
	localConf      bool
}

// routing is an immutable snapshot of the node addressing.
type routing struct {
	// sess is the running session.
	sess *session

	// assigned contains the assigned addresses with their prefix length.
	assigned []netip.Prefix

	// local contains the assigned addresses.
	local map[netip.Addr]struct{}

	// routes contains the prefixes of the joined networks.
	routes *netipx.IPSet
}

// isLocal returns whether addr belongs to this node.
func (rt *routing) isLocal(addr netip.Addr) bool {
	if rt == nil {
		return false
	}
	if addr.IsLoopback() {
		return true
	}
	_, found := rt.local[addr]
	return found
}

// NewNode creates a new stopped [*Node] attached to the given
// fabric. A nil fabric gives the node a private fabric.
func NewNode(fabric *Fabric) *Node {
	if fabric == nil {
		fabric = NewFabric()
	}
	n := &Node{
		fabric: fabric,
		fds:    xsync.NewMapOf[int, *port](),
		ports:  map[PortAddr]*port{},
		nextport: map[packet.IPProtocol]uint16{
			packet.IPProtocolTCP: firstEphemeralPort,
			packet.IPProtocolUDP: firstEphemeralPort,
		},
		notify:   make(chan struct{}),
		opts:     options{localStorage: true, networkCaching: true},
		mtu:      DefaultMTU,
		networks: map[uint64]*membership{},
	}
	n.peerCaching.Store(true)
	return n
}

// logger returns the logger or a discarding logger.
func (n *Node) logger() *slog.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return discardLogger
}

// discardLogger drops every record.
var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// lookup returns the port for the given descriptor.
func (n *Node) lookup(fd int) (*port, bool) {
	return n.fds.Load(fd)
}

// newDescriptor stores p under a new descriptor.
func (n *Node) newDescriptor(p *port) int {
	fd := int(n.nextfd.Add(1))
	n.fds.Store(fd, p)
	return fd
}

// running returns the current session or nil.
func (n *Node) running() *session {
	if rt := n.routing.Load(); rt != nil {
		return rt.sess
	}
	return nil
}

// broadcastLocked wakes up every goroutine waiting for a port change.
//
// The caller must hold portmu.
func (n *Node) broadcastLocked() {
	close(n.notify)
	n.notify = make(chan struct{})
}

// waitLocked releases portmu until a port changes or timeout
// fires, and then reacquires it. A nil timeout waits forever.
// It returns false when the timeout fired.
//
// The caller must hold portmu.
func (n *Node) waitLocked(timeout <-chan time.Time) bool {
	ch := n.notify
	n.portmu.Unlock()
	defer n.portmu.Lock()
	select {
	case <-ch:
		return true
	case <-timeout:
		return false
	}
}

// registerLocked adds p to the port table under addr.
//
// The caller must hold portmu.
func (n *Node) registerLocked(p *port, addr PortAddr) syscall.Errno {
	if _, found := n.ports[addr]; found {
		return EADDRINUSE
	}
	n.ports[addr] = p
	p.addr = addr
	p.registered = true
	n.logger().Debug("portOpen", slog.String("addr", addr.String()))
	return 0
}

// unregisterLocked removes p from the port table.
//
// The caller must hold portmu.
func (n *Node) unregisterLocked(p *port) {
	if !p.registered {
		return
	}
	if n.ports[p.addr] == p {
		delete(n.ports, p.addr)
	}
	p.registered = false
	n.logger().Debug("portClose", slog.String("addr", p.addr.String()))
}

// portInUseLocked returns whether a port would conflict with addr.
//
// The caller must hold portmu.
func (n *Node) portInUseLocked(addr PortAddr) bool {
	if _, found := n.ports[addr]; found {
		return true
	}
	for key := range n.ports {
		if key.Protocol != addr.Protocol || key.LocalAddr.Port() != addr.LocalAddr.Port() {
			continue
		}
		if key.RemoteAddr.IsValid() && addr.RemoteAddr.IsValid() {
			continue
		}
		kaddr, laddr := key.LocalAddr.Addr(), addr.LocalAddr.Addr()
		if kaddr == laddr || kaddr.IsUnspecified() || laddr.IsUnspecified() {
			return true
		}
	}
	return false
}

// ephemeralLocked returns an unused ephemeral port.
//
// The caller must hold portmu.
func (n *Node) ephemeralLocked(protocol packet.IPProtocol) (uint16, syscall.Errno) {
	const span = 1<<16 - firstEphemeralPort
	for range span {
		candidate := n.nextport[protocol]
		if candidate == 1<<16-1 {
			n.nextport[protocol] = firstEphemeralPort
		} else {
			n.nextport[protocol] = candidate + 1
		}
		used := false
		for key := range n.ports {
			if key.Protocol == protocol && key.LocalAddr.Port() == candidate {
				used = true
				break
			}
		}
		if !used {
			return candidate, 0
		}
	}
	return 0, EADDRINUSE
}

// findPortLocked finds the port for an incoming packet.
//
// The algorithm is as follows:
//
// 1. first try using the five tuple.
//
// 2. if not found, try using the three tuple, where
// the remote address is invalid.
//
// 3. if not found, use a five tuple where the local IP
// address is the unspecified address of the packet family.
//
// 4. if not found, use a three tuple where the remote address
// is invalid, and the local IP address is unspecified.
//
// 5. otherwise, return nil.
//
// The caller must hold portmu.
func (n *Node) findPortLocked(pkt *packet.Packet) *port {
	unspec := netip.IPv4Unspecified()
	if pkt.DstAddr.Is6() {
		unspec = netip.IPv6Unspecified()
	}
	candidates := []PortAddr{
		{LocalAddr: pkt.Dst(), Protocol: pkt.IPProtocol, RemoteAddr: pkt.Src()},
		{LocalAddr: pkt.Dst(), Protocol: pkt.IPProtocol},
		{LocalAddr: netip.AddrPortFrom(unspec, pkt.DstPort), Protocol: pkt.IPProtocol, RemoteAddr: pkt.Src()},
		{LocalAddr: netip.AddrPortFrom(unspec, pkt.DstPort), Protocol: pkt.IPProtocol},
	}
	for _, addr := range candidates {
		if p := n.ports[addr]; p != nil {
			return p
		}
	}
	return nil
}

// demux delivers an incoming [*packet.Packet] to its port.
func (n *Node) demux(pkt *packet.Packet) {
	var replies []*packet.Packet

	n.portmu.Lock()
	p := n.findPortLocked(pkt)
	switch {
	case p == nil:
		if pkt.IPProtocol == packet.IPProtocolTCP && pkt.Flags&packet.TCPFlagRST == 0 {
			replies = append(replies, pkt.Reply(packet.TCPFlagRST))
		}

	case pkt.IPProtocol == packet.IPProtocolTCP:
		replies = n.tcpInputLocked(p, pkt)

	default:
		if len(p.dgrams) < maxQueuedDatagrams {
			p.dgrams = append(p.dgrams, pkt)
			n.broadcastLocked()
		}
	}
	n.portmu.Unlock()

	for _, reply := range replies {
		n.transmit(reply, false)
	}
}

// tcpInputLocked processes a TCP segment and returns the replies.
//
// The caller must hold portmu.
func (n *Node) tcpInputLocked(p *port, pkt *packet.Packet) []*packet.Packet {
	rst := []*packet.Packet{pkt.Reply(packet.TCPFlagRST)}
	isRST := pkt.Flags&packet.TCPFlagRST != 0

	switch {
	case p.listening:
		if isRST {
			return nil
		}
		if pkt.Flags != packet.TCPFlagSYN || len(p.pending) >= p.backlog {
			return rst
		}
		child := &port{domain: p.domain, stype: SockStream, connected: true}
		addr := PortAddr{LocalAddr: pkt.Dst(), Protocol: packet.IPProtocolTCP, RemoteAddr: pkt.Src()}
		if n.registerLocked(child, addr) != 0 {
			return rst
		}
		p.pending = append(p.pending, child)
		n.broadcastLocked()
		return []*packet.Packet{pkt.Reply(packet.TCPFlagSYN | packet.TCPFlagACK)}

	case p.connecting:
		switch {
		case isRST:
			p.connecting = false
			p.softErr = ECONNREFUSED
			n.broadcastLocked()
		case pkt.Flags == packet.TCPFlagSYN|packet.TCPFlagACK:
			p.connecting = false
			p.connected = true
			n.broadcastLocked()
		}
		return nil

	case p.connected:
		if isRST {
			p.reset = true
			n.broadcastLocked()
			return nil
		}
		if len(pkt.Payload) > 0 && !p.eof {
			p.stream.Write(pkt.Payload)
		}
		if pkt.Flags&packet.TCPFlagFIN != 0 {
			p.eof = true
		}
		n.broadcastLocked()
		return nil

	default:
		if isRST {
			return nil
		}
		return rst
	}
}

// transmit sends a packet. Packets for local addresses go straight
// to demux. Other packets go to the fabric; when block is false and
// the device queue is full, the packet is dropped with [ENOBUFS].
func (n *Node) transmit(pkt *packet.Packet, block bool) syscall.Errno {
	rt := n.routing.Load()
	if rt == nil || rt.sess == nil {
		return ENETDOWN
	}
	if rt.isLocal(pkt.DstAddr) {
		n.demux(pkt)
		return 0
	}
	if rt.routes == nil || !rt.routes.Contains(pkt.DstAddr) {
		return EHOSTUNREACH
	}
	if !block {
		select {
		case rt.sess.output <- pkt:
			return 0
		default:
			return ENOBUFS
		}
	}
	select {
	case rt.sess.output <- pkt:
		return 0
	case <-rt.sess.eof:
		return ENETDOWN
	}
}

// sourceFor returns the local address to use when sending to dst.
func (n *Node) sourceFor(dst netip.Addr) (netip.Addr, syscall.Errno) {
	rt := n.routing.Load()
	if rt == nil || rt.sess == nil {
		return netip.Addr{}, ENETDOWN
	}
	if dst.IsLoopback() {
		if dst.Is4() {
			return netip.AddrFrom4([4]byte{127, 0, 0, 1}), 0
		}
		return netip.IPv6Loopback(), 0
	}
	if rt.isLocal(dst) {
		return dst, 0
	}
	for _, prefix := range rt.assigned {
		if prefix.Contains(dst) {
			return prefix.Addr(), 0
		}
	}
	return netip.Addr{}, EHOSTUNREACH
}
