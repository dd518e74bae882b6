//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Read-only views over the event payloads.
//

package events

import (
	"net/netip"
	"slices"
	"time"

	"github.com/rbmk-project/vsock/ipaddr"
	"github.com/rbmk-project/vsock/vstack"
)

// NodeDetails describes the local node.
type NodeDetails struct {
	info *vstack.NodeInfo
}

// NodeID returns the 40-bit node identity.
func (d *NodeDetails) NodeID() uint64 {
	return d.info.NodeID
}

// PrimaryPort returns the primary port of the node.
func (d *NodeDetails) PrimaryPort() uint16 {
	return d.info.PrimaryPort
}

// SecondaryPort returns the secondary port of the node.
func (d *NodeDetails) SecondaryPort() uint16 {
	return d.info.SecondaryPort
}

// TertiaryPort returns the tertiary port of the node.
func (d *NodeDetails) TertiaryPort() uint16 {
	return d.info.TertiaryPort
}

// Version returns the version of the stack.
func (d *NodeDetails) Version() (major, minor, revision uint32) {
	return d.info.VerMajor, d.info.VerMinor, d.info.VerRev
}

// NetworkDetails describes a virtual network configuration.
type NetworkDetails struct {
	info *vstack.NetworkInfo
}

// NetworkID returns the 64-bit network ID.
func (d *NetworkDetails) NetworkID() uint64 {
	return d.info.NetID
}

// MACAddress returns the interface MAC in the lower 48 bits.
func (d *NetworkDetails) MACAddress() uint64 {
	return d.info.MAC
}

// Name returns the network name.
func (d *NetworkDetails) Name() string {
	return d.info.Name
}

// Status returns the configuration status.
func (d *NetworkDetails) Status() Status {
	status := Status(d.info.Status)
	if _, found := statusNames[status]; !found {
		return StatusUnknown
	}
	return status
}

// Type returns the network type.
func (d *NetworkDetails) Type() NetworkType {
	switch typ := NetworkType(d.info.Type); typ {
	case NetworkTypePrivate, NetworkTypePublic:
		return typ
	default:
		return NetworkTypeUnknown
	}
}

// MTU returns the maximum interface MTU.
func (d *NetworkDetails) MTU() uint32 {
	return d.info.MTU
}

// DHCPAvailable returns whether the network advertises DHCP.
func (d *NetworkDetails) DHCPAvailable() bool {
	return d.info.DHCP
}

// BridgeEnabled returns whether the interface may bridge.
func (d *NetworkDetails) BridgeEnabled() bool {
	return d.info.Bridge
}

// BroadcastEnabled returns whether broadcast traffic is allowed.
func (d *NetworkDetails) BroadcastEnabled() bool {
	return d.info.BroadcastEnabled
}

// LastPortError returns the last (negative) error code when
// the status is [StatusPortError].
func (d *NetworkDetails) LastPortError() int {
	return d.info.PortError
}

// ConfigRevision returns the configuration revision, or zero
// while the configuration is pending.
func (d *NetworkDetails) ConfigRevision() uint64 {
	return d.info.NetconfRev
}

// AssignedAddressCount returns the number of assigned addresses.
func (d *NetworkDetails) AssignedAddressCount() int {
	return len(d.info.AssignedAddrs)
}

// AssignedAddresses returns a copy of the assigned addresses
// along with their prefix length.
func (d *NetworkDetails) AssignedAddresses() []netip.Prefix {
	return slices.Clone(d.info.AssignedAddrs)
}

// RouteCount returns the number of managed routes.
func (d *NetworkDetails) RouteCount() int {
	return len(d.info.Routes)
}

// Routes returns views over the managed routes.
func (d *NetworkDetails) Routes() []*RouteDetails {
	routes := make([]*RouteDetails, 0, len(d.info.Routes))
	for idx := range d.info.Routes {
		routes = append(routes, &RouteDetails{info: &d.info.Routes[idx]})
	}
	return routes
}

// MulticastSubscription is a multicast group joined by an interface.
type MulticastSubscription struct {
	// MAC is the group MAC in the lower 48 bits.
	MAC uint64

	// ADI is additional distinguishing information, usually zero
	// except for IPv4 ARP groups.
	ADI uint32
}

// MulticastSubscriptionCount returns the number of subscribed groups.
func (d *NetworkDetails) MulticastSubscriptionCount() int {
	return len(d.info.MulticastSubs)
}

// MulticastSubscriptions returns the subscribed groups.
func (d *NetworkDetails) MulticastSubscriptions() []MulticastSubscription {
	subs := make([]MulticastSubscription, 0, len(d.info.MulticastSubs))
	for _, sub := range d.info.MulticastSubs {
		subs = append(subs, MulticastSubscription{MAC: sub.MAC, ADI: sub.ADI})
	}
	return subs
}

// NetworkInterfaceDetails describes a virtual network interface.
type NetworkInterfaceDetails struct {
	info *vstack.NetifInfo
}

// NetworkID returns the ID of the network served by the interface.
func (d *NetworkInterfaceDetails) NetworkID() uint64 {
	return d.info.NetID
}

// MACAddress returns the interface MAC in the lower 48 bits.
func (d *NetworkInterfaceDetails) MACAddress() uint64 {
	return d.info.MAC
}

// MTU returns the interface MTU.
func (d *NetworkInterfaceDetails) MTU() int {
	return d.info.MTU
}

// NetworkStackDetails describes the network stack.
type NetworkStackDetails struct {
	NetworkInterfaceDetails
}

// PeerDetails describes a remote peer.
type PeerDetails struct {
	info *vstack.PeerInfo
}

// Address returns the 40-bit address of the peer.
func (d *PeerDetails) Address() uint64 {
	return d.info.Address
}

// Version returns the remote version; -1 means unknown.
func (d *PeerDetails) Version() (major, minor, revision int) {
	return d.info.VerMajor, d.info.VerMinor, d.info.VerRev
}

// Latency returns the last measured latency; -1 means unknown.
func (d *PeerDetails) Latency() time.Duration {
	return d.info.Latency
}

// Role returns the trust hierarchy role.
func (d *PeerDetails) Role() PeerRole {
	switch role := PeerRole(d.info.Role); role {
	case PeerRoleLeaf, PeerRoleMoon, PeerRolePlanet:
		return role
	default:
		return PeerRoleUnknown
	}
}

// PathCount returns the number of known paths.
func (d *PeerDetails) PathCount() int {
	return len(d.info.Paths)
}

// Paths returns a copy of the known physical paths.
func (d *PeerDetails) Paths() []netip.AddrPort {
	return slices.Clone(d.info.Paths)
}

// RouteDetails describes a managed route.
type RouteDetails struct {
	info *vstack.RouteInfo
}

// Target returns the route destination.
func (d *RouteDetails) Target() netip.Prefix {
	return d.info.Target
}

// Via returns the gateway, which is invalid for on-link routes.
func (d *RouteDetails) Via() ipaddr.Addr {
	return ipaddr.FromNetipAddr(d.info.Via)
}

// Flags returns the route flags.
func (d *RouteDetails) Flags() uint16 {
	return d.info.Flags
}

// Metric returns the route metric.
func (d *RouteDetails) Metric() uint16 {
	return d.info.Metric
}

// AddressDetails describes an address assignment.
type AddressDetails struct {
	info *vstack.AddrInfo
}

// NetworkID returns the ID of the network the address belongs to.
func (d *AddressDetails) NetworkID() uint64 {
	return d.info.NetID
}

// IPAddress returns the assigned address.
func (d *AddressDetails) IPAddress() ipaddr.Addr {
	return ipaddr.FromNetipAddr(d.info.Addr)
}
