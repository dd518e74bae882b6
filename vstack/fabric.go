//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Overlay fabric.
//

package vstack

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"sync"

	"github.com/rbmk-project/vsock/vstack/router"
)

// NetworkConfig configures a network served by a [*Fabric].
type NetworkConfig struct {
	// Name is the network name.
	Name string

	// Private restricts membership to the Authorized nodes.
	Private bool

	// Authorized contains the node IDs allowed to join a private network.
	Authorized []uint64

	// MTU is the interface MTU, or zero for the node default.
	MTU int
}

// Fabric is the in-process overlay connecting nodes. Each joined
// network gets an IPv4 /24 derived from the network ID and an IPv6
// /88 built from the network ID and the node ID.
//
// Joining a network the fabric does not know creates a public network.
//
// The zero value is invalid; construct using [NewFabric].
type Fabric struct {
	// mu protects networks and nodes.
	mu sync.Mutex

	// networks contains the known networks.
	networks map[uint64]*overlay

	// nodes contains the attached nodes by identity.
	nodes map[uint64]*Node

	// router forwards packets between attached sessions.
	router *router.Router
}

// overlay is a network served by the [*Fabric].
type overlay struct {
	// config is the network configuration.
	config NetworkConfig

	// members contains the joined nodes by identity.
	members map[uint64]*member
}

// member is a node that joined an [*overlay].
type member struct {
	// node is the member node.
	node *Node

	// sess is the member session.
	sess *session

	// host is the IPv4 host number.
	host uint8
}

// NewFabric creates an empty [*Fabric].
func NewFabric() *Fabric {
	return &Fabric{
		networks: map[uint64]*overlay{},
		nodes:    map[uint64]*Node{},
		router:   router.New(),
	}
}

// SetLogger sets the logger used to report dropped packets.
func (f *Fabric) SetLogger(logger *slog.Logger) {
	f.router.Logger = logger
}

// DefineNetwork creates or updates a network.
func (f *Fabric) DefineNetwork(nwid uint64, config NetworkConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networkLocked(nwid).config = config
}

// Authorize allows nodeID to join the private network nwid.
func (f *Fabric) Authorize(nwid, nodeID uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	nw := f.networkLocked(nwid)
	if !slices.Contains(nw.config.Authorized, nodeID) {
		nw.config.Authorized = append(nw.config.Authorized, nodeID)
	}
}

// Members returns the sorted IDs of the nodes that joined nwid.
func (f *Fabric) Members(nwid uint64) []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uint64
	if nw, found := f.networks[nwid]; found {
		for id := range nw.members {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// networkLocked returns the network, creating it when needed.
//
// The caller must hold mu.
func (f *Fabric) networkLocked(nwid uint64) *overlay {
	nw, found := f.networks[nwid]
	if !found {
		nw = &overlay{
			config:  NetworkConfig{Name: fmt.Sprintf("%016x", nwid)},
			members: map[uint64]*member{},
		}
		f.networks[nwid] = nw
	}
	return nw
}

var (
	// errIdentityCollision indicates that another node uses the same identity.
	errIdentityCollision = errors.New("identity collision")

	// errAccessDenied indicates that the node may not join the network.
	errAccessDenied = errors.New("access denied")

	// errNetworkFull indicates that no IPv4 host number is available.
	errNetworkFull = errors.New("network full")
)

// attach connects the session of a started node.
func (f *Fabric) attach(node *Node, sess *session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if other, found := f.nodes[node.id]; found && other != node {
		return errIdentityCollision
	}
	f.nodes[node.id] = node
	f.router.Attach(sess)
	return nil
}

// detach disconnects the session of a stopping node.
func (f *Fabric) detach(node *Node, sess *session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nodes[node.id] == node {
		delete(f.nodes, node.id)
	}
	f.router.Detach(sess)
}

// join assigns addresses to node in the network nwid.
func (f *Fabric) join(node *Node, sess *session, nwid uint64) (*membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	nw := f.networkLocked(nwid)
	if nw.config.Private && !slices.Contains(nw.config.Authorized, node.id) {
		return nil, errAccessDenied
	}
	used := make(map[uint8]bool, len(nw.members))
	for _, m := range nw.members {
		used[m.host] = true
	}
	host := uint8(1)
	for ; used[host]; host++ {
		if host >= 254 {
			return nil, errNetworkFull
		}
	}
	nw.members[node.id] = &member{node: node, sess: sess, host: host}
	mtu := nw.config.MTU
	if mtu <= 0 {
		mtu = node.mtu
	}
	typ := NetworkTypePublic
	if nw.config.Private {
		typ = NetworkTypePrivate
	}
	return &membership{
		nwid:  nwid,
		name:  nw.config.Name,
		mtu:   mtu,
		mac:   macAddress(nwid, node.id),
		addr4: netip.PrefixFrom(netip.AddrFrom4([4]byte{10, byte(nwid >> 8), byte(nwid), host}), 24),
		addr6: netip.PrefixFrom(rfc4193Addr(nwid, node.id), 88),
		typ:   typ,
	}, nil
}

// announce routes traffic to the new member and exchanges
// peer events between it and the other members.
func (f *Fabric) announce(node *Node, sess *session, nwid uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.router.AddRoute(sess)
	nw, found := f.networks[nwid]
	if !found {
		return
	}
	for id, other := range nw.members {
		if id == node.id {
			continue
		}
		sess.emit(&EventMessage{Code: EventPeerDirect, Peer: other.node.peerInfo()})
		node.rememberPeer(other.node.peerInfo())
		other.sess.emit(&EventMessage{Code: EventPeerDirect, Peer: node.peerInfo()})
		other.node.rememberPeer(node.peerInfo())
	}
}

// leave removes node from the network nwid.
func (f *Fabric) leave(node *Node, sess *session, m *membership) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.router.RemoveRoute(m.addr4.Addr(), m.addr6.Addr())
	nw, found := f.networks[m.nwid]
	if !found {
		return
	}
	delete(nw.members, node.id)
	for _, other := range nw.members {
		sess.emit(&EventMessage{Code: EventPeerUnreachable, Peer: other.node.peerInfo()})
		other.sess.emit(&EventMessage{Code: EventPeerUnreachable, Peer: node.peerInfo()})
	}
}

// macAddress derives the interface MAC from the network and node IDs.
//
// The first byte is locally administered and unicast and is never 0x52.
func macAddress(nwid, nodeID uint64) uint64 {
	first := (byte(nwid) & 0xfe) | 0x02
	if first == 0x52 {
		first = 0x32
	}
	mac := uint64(first) << 40
	mac |= (nodeID ^ (nwid >> 8)) & 0xffffffffff
	return mac
}

// rfc4193Addr builds the IPv6 address fd + network ID + 9993 + node ID.
func rfc4193Addr(nwid, nodeID uint64) netip.Addr {
	var raw [16]byte
	raw[0] = 0xfd
	binary.BigEndian.PutUint64(raw[1:9], nwid)
	raw[9] = 0x99
	raw[10] = 0x93
	for idx := 0; idx < 5; idx++ {
		raw[11+idx] = byte(nodeID >> (8 * (4 - idx)))
	}
	return netip.AddrFrom16(raw)
}
