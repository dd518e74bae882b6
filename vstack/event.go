//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Event feed.
//

package vstack

import (
	"net/netip"
	"time"
)

// Event codes.
const (
	EventNodeUp                 = 200
	EventNodeOnline             = 201
	EventNodeOffline            = 202
	EventNodeDown               = 203
	EventNodeIdentityCollision  = 204
	EventNodeUnrecoverableError = 205
	EventNodeNormalTermination  = 206

	EventNetworkNotFound     = 210
	EventNetworkClientTooOld = 211
	EventNetworkReqConfig    = 212
	EventNetworkOK           = 213
	EventNetworkAccessDenied = 214
	EventNetworkReadyIP4     = 215
	EventNetworkReadyIP6     = 216
	EventNetworkReadyIP4IP6  = 217
	EventNetworkDown         = 218
	EventNetworkUpdate       = 219

	EventStackUp   = 220
	EventStackDown = 221

	EventNetifUp       = 230
	EventNetifDown     = 231
	EventNetifRemoved  = 232
	EventNetifLinkUp   = 233
	EventNetifLinkDown = 234

	EventPeerDirect         = 240
	EventPeerRelay          = 241
	EventPeerUnreachable    = 242
	EventPeerPathDiscovered = 243
	EventPeerPathDead       = 244

	EventRouteAdded   = 250
	EventRouteRemoved = 251

	EventAddrAddedIP4   = 260
	EventAddrRemovedIP4 = 261
	EventAddrAddedIP6   = 262
	EventAddrRemovedIP6 = 263
)

// Network status values.
const (
	NetworkStatusRequestingConfiguration = 0
	NetworkStatusOK                      = 1
	NetworkStatusAccessDenied            = 2
	NetworkStatusNotFound                = 3
	NetworkStatusPortError               = 4
	NetworkStatusClientTooOld            = 5
)

// Network types.
const (
	NetworkTypePrivate = 0
	NetworkTypePublic  = 1
)

// Peer roles.
const (
	PeerRoleLeaf   = 0
	PeerRoleMoon   = 1
	PeerRolePlanet = 2
)

// Version of the stack reported in [NodeInfo] and [PeerInfo].
const (
	VersionMajor    = 1
	VersionMinor    = 4
	VersionRevision = 0
)

// EventMessage is a message delivered to the event callback.
//
// At most one payload pointer is set, depending on Code.
type EventMessage struct {
	// Code is the event code.
	Code int16

	// Node is set for node events.
	Node *NodeInfo

	// Network is set for network events.
	Network *NetworkInfo

	// Netif is set for network interface events.
	Netif *NetifInfo

	// Peer is set for peer events.
	Peer *PeerInfo

	// Route is set for route events.
	Route *RouteInfo

	// Addr is set for address events.
	Addr *AddrInfo
}

// NodeInfo describes the local node.
type NodeInfo struct {
	NodeID        uint64
	PrimaryPort   uint16
	SecondaryPort uint16
	TertiaryPort  uint16
	VerMajor      uint32
	VerMinor      uint32
	VerRev        uint32
}

// NetworkInfo describes a joined network.
type NetworkInfo struct {
	NetID            uint64
	MAC              uint64
	Name             string
	Status           int
	Type             int
	MTU              uint32
	DHCP             bool
	Bridge           bool
	BroadcastEnabled bool
	PortError        int
	NetconfRev       uint64

	// AssignedAddrs contains the assigned addresses with their prefix length.
	AssignedAddrs []netip.Prefix

	// Routes contains the routes pushed by the network.
	Routes []RouteInfo

	// MulticastSubs contains the multicast subscriptions.
	MulticastSubs []MulticastSub
}

// MulticastSub is a multicast group subscription.
type MulticastSub struct {
	// MAC is the group MAC in the lower 48 bits.
	MAC uint64

	// ADI is additional distinguishing information.
	ADI uint32
}

// NetifInfo describes a virtual network interface.
type NetifInfo struct {
	NetID uint64
	MAC   uint64
	MTU   int
}

// PeerInfo describes a remote peer.
type PeerInfo struct {
	Address  uint64
	VerMajor int
	VerMinor int
	VerRev   int

	// Latency is the last measured latency or -1 if unknown.
	Latency time.Duration

	Role int

	// Paths contains the known physical paths.
	Paths []netip.AddrPort
}

// RouteInfo describes a managed route.
type RouteInfo struct {
	Target netip.Prefix
	Via    netip.Addr
	Flags  uint16
	Metric uint16
}

// AddrInfo describes an address assignment.
type AddrInfo struct {
	NetID uint64
	Addr  netip.Addr
}
