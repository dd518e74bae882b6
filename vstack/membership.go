// SPDX-License-Identifier: GPL-3.0-or-later

package vstack

import "net/netip"

// membership is the local view of a joined network.
type membership struct {
	nwid  uint64
	name  string
	mtu   int
	mac   uint64
	typ   int
	addr4 netip.Prefix
	addr6 netip.Prefix
}

// prefixes returns the assigned addresses with their prefix length.
func (m *membership) prefixes() []netip.Prefix {
	return []netip.Prefix{m.addr4, m.addr6}
}

// routes returns the managed routes of the network.
func (m *membership) routes() []RouteInfo {
	return []RouteInfo{
		{Target: m.addr4.Masked(), Metric: 0},
		{Target: m.addr6.Masked(), Metric: 0},
	}
}

// networkInfo returns the network payload for the given status.
func (m *membership) networkInfo(status int) *NetworkInfo {
	info := &NetworkInfo{
		NetID:            m.nwid,
		MAC:              m.mac,
		Name:             m.name,
		Status:           status,
		Type:             m.typ,
		MTU:              uint32(m.mtu),
		BroadcastEnabled: true,
	}
	if status == NetworkStatusOK {
		info.NetconfRev = 1
		info.AssignedAddrs = m.prefixes()
		info.Routes = m.routes()
		info.MulticastSubs = []MulticastSub{{MAC: 0xffffffffffff, ADI: ipv4ADI(m.addr4.Addr())}}
	}
	return info
}

// netifInfo returns the interface payload.
func (m *membership) netifInfo() *NetifInfo {
	return &NetifInfo{NetID: m.nwid, MAC: m.mac, MTU: m.mtu}
}

// ipv4ADI returns the ARP multicast ADI for an IPv4 address.
func ipv4ADI(addr netip.Addr) uint32 {
	raw := addr.As4()
	return uint32(raw[0])<<24 | uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])
}
