// SPDX-License-Identifier: GPL-3.0-or-later

package events

// Handler receives the events of a node, one method per category.
//
// The details argument is nil when the event carries no payload
// and must not be retained after the method returns.
type Handler interface {
	OnAddressEvent(code AddressEvent, details *AddressDetails)
	OnNetworkEvent(code NetworkEvent, details *NetworkDetails)
	OnNetworkInterfaceEvent(code NetworkInterfaceEvent, details *NetworkInterfaceDetails)
	OnNetworkStackEvent(code NetworkStackEvent, details *NetworkStackDetails)
	OnNodeEvent(code NodeEvent, details *NodeDetails)
	OnPeerEvent(code PeerEvent, details *PeerDetails)
	OnRouteEvent(code RouteEvent, details *RouteDetails)

	// OnUnknownEvent receives the codes outside the known categories.
	OnUnknownEvent(code int16)
}

// NopHandler is a [Handler] ignoring every event. Embed it to
// implement only the methods you care about.
type NopHandler struct{}

var _ Handler = NopHandler{}

// OnAddressEvent implements [Handler].
func (NopHandler) OnAddressEvent(AddressEvent, *AddressDetails) {}

// OnNetworkEvent implements [Handler].
func (NopHandler) OnNetworkEvent(NetworkEvent, *NetworkDetails) {}

// OnNetworkInterfaceEvent implements [Handler].
func (NopHandler) OnNetworkInterfaceEvent(NetworkInterfaceEvent, *NetworkInterfaceDetails) {}

// OnNetworkStackEvent implements [Handler].
func (NopHandler) OnNetworkStackEvent(NetworkStackEvent, *NetworkStackDetails) {}

// OnNodeEvent implements [Handler].
func (NopHandler) OnNodeEvent(NodeEvent, *NodeDetails) {}

// OnPeerEvent implements [Handler].
func (NopHandler) OnPeerEvent(PeerEvent, *PeerDetails) {}

// OnRouteEvent implements [Handler].
func (NopHandler) OnRouteEvent(RouteEvent, *RouteDetails) {}

// OnUnknownEvent implements [Handler].
func (NopHandler) OnUnknownEvent(int16) {}
