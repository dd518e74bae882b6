// SPDX-License-Identifier: GPL-3.0-or-later

package events

import (
	"fmt"

	"github.com/rbmk-project/vsock/vstack"
)

// NodeEvent is the code of an event about the local node.
type NodeEvent int16

// Node events.
const (
	NodeUp                 = NodeEvent(vstack.EventNodeUp)
	NodeOnline             = NodeEvent(vstack.EventNodeOnline)
	NodeOffline            = NodeEvent(vstack.EventNodeOffline)
	NodeDown               = NodeEvent(vstack.EventNodeDown)
	NodeIdentityCollision  = NodeEvent(vstack.EventNodeIdentityCollision)
	NodeUnrecoverableError = NodeEvent(vstack.EventNodeUnrecoverableError)
	NodeNormalTermination  = NodeEvent(vstack.EventNodeNormalTermination)
)

var nodeEventNames = map[NodeEvent]string{
	NodeUp:                 "Up",
	NodeOnline:             "Online",
	NodeOffline:            "Offline",
	NodeDown:               "Down",
	NodeIdentityCollision:  "IdentityCollision",
	NodeUnrecoverableError: "UnrecoverableError",
	NodeNormalTermination:  "NormalTermination",
}

// String implements [fmt.Stringer].
func (e NodeEvent) String() string {
	return codeName("NodeEvent", nodeEventNames, e)
}

// NetworkEvent is the code of an event about a virtual network.
type NetworkEvent int16

// Network events.
const (
	NetworkNotFound                = NetworkEvent(vstack.EventNetworkNotFound)
	NetworkClientTooOld            = NetworkEvent(vstack.EventNetworkClientTooOld)
	NetworkRequestingConfiguration = NetworkEvent(vstack.EventNetworkReqConfig)
	NetworkOK                      = NetworkEvent(vstack.EventNetworkOK)
	NetworkAccessDenied            = NetworkEvent(vstack.EventNetworkAccessDenied)
	NetworkReadyIPv4               = NetworkEvent(vstack.EventNetworkReadyIP4)
	NetworkReadyIPv6               = NetworkEvent(vstack.EventNetworkReadyIP6)
	NetworkReadyIPv4IPv6           = NetworkEvent(vstack.EventNetworkReadyIP4IP6)
	NetworkDown                    = NetworkEvent(vstack.EventNetworkDown)
	NetworkUpdate                  = NetworkEvent(vstack.EventNetworkUpdate)
)

var networkEventNames = map[NetworkEvent]string{
	NetworkNotFound:                "NotFound",
	NetworkClientTooOld:            "ClientTooOld",
	NetworkRequestingConfiguration: "RequestingConfiguration",
	NetworkOK:                      "OK",
	NetworkAccessDenied:            "AccessDenied",
	NetworkReadyIPv4:               "ReadyIPv4",
	NetworkReadyIPv6:               "ReadyIPv6",
	NetworkReadyIPv4IPv6:           "ReadyIPv4IPv6",
	NetworkDown:                    "Down",
	NetworkUpdate:                  "Update",
}

// String implements [fmt.Stringer].
func (e NetworkEvent) String() string {
	return codeName("NetworkEvent", networkEventNames, e)
}

// NetworkStackEvent is the code of an event about the network stack.
type NetworkStackEvent int16

// Network stack events.
const (
	NetworkStackUp   = NetworkStackEvent(vstack.EventStackUp)
	NetworkStackDown = NetworkStackEvent(vstack.EventStackDown)
)

var networkStackEventNames = map[NetworkStackEvent]string{
	NetworkStackUp:   "Up",
	NetworkStackDown: "Down",
}

// String implements [fmt.Stringer].
func (e NetworkStackEvent) String() string {
	return codeName("NetworkStackEvent", networkStackEventNames, e)
}

// NetworkInterfaceEvent is the code of an event about a virtual interface.
type NetworkInterfaceEvent int16

// Network interface events.
const (
	NetworkInterfaceUp       = NetworkInterfaceEvent(vstack.EventNetifUp)
	NetworkInterfaceDown     = NetworkInterfaceEvent(vstack.EventNetifDown)
	NetworkInterfaceRemoved  = NetworkInterfaceEvent(vstack.EventNetifRemoved)
	NetworkInterfaceLinkUp   = NetworkInterfaceEvent(vstack.EventNetifLinkUp)
	NetworkInterfaceLinkDown = NetworkInterfaceEvent(vstack.EventNetifLinkDown)
)

var networkInterfaceEventNames = map[NetworkInterfaceEvent]string{
	NetworkInterfaceUp:       "Up",
	NetworkInterfaceDown:     "Down",
	NetworkInterfaceRemoved:  "Removed",
	NetworkInterfaceLinkUp:   "LinkUp",
	NetworkInterfaceLinkDown: "LinkDown",
}

// String implements [fmt.Stringer].
func (e NetworkInterfaceEvent) String() string {
	return codeName("NetworkInterfaceEvent", networkInterfaceEventNames, e)
}

// PeerEvent is the code of an event about a remote peer.
type PeerEvent int16

// Peer events.
const (
	PeerDirect         = PeerEvent(vstack.EventPeerDirect)
	PeerRelay          = PeerEvent(vstack.EventPeerRelay)
	PeerUnreachable    = PeerEvent(vstack.EventPeerUnreachable)
	PeerPathDiscovered = PeerEvent(vstack.EventPeerPathDiscovered)
	PeerPathDead       = PeerEvent(vstack.EventPeerPathDead)
)

var peerEventNames = map[PeerEvent]string{
	PeerDirect:         "Direct",
	PeerRelay:          "Relay",
	PeerUnreachable:    "Unreachable",
	PeerPathDiscovered: "PathDiscovered",
	PeerPathDead:       "PathDead",
}

// String implements [fmt.Stringer].
func (e PeerEvent) String() string {
	return codeName("PeerEvent", peerEventNames, e)
}

// RouteEvent is the code of an event about a managed route.
type RouteEvent int16

// Route events.
const (
	RouteAdded   = RouteEvent(vstack.EventRouteAdded)
	RouteRemoved = RouteEvent(vstack.EventRouteRemoved)
)

var routeEventNames = map[RouteEvent]string{
	RouteAdded:   "Added",
	RouteRemoved: "Removed",
}

// String implements [fmt.Stringer].
func (e RouteEvent) String() string {
	return codeName("RouteEvent", routeEventNames, e)
}

// AddressEvent is the code of an event about an assigned address.
type AddressEvent int16

// Address events.
const (
	AddressAddedIPv4   = AddressEvent(vstack.EventAddrAddedIP4)
	AddressRemovedIPv4 = AddressEvent(vstack.EventAddrRemovedIP4)
	AddressAddedIPv6   = AddressEvent(vstack.EventAddrAddedIP6)
	AddressRemovedIPv6 = AddressEvent(vstack.EventAddrRemovedIP6)
)

var addressEventNames = map[AddressEvent]string{
	AddressAddedIPv4:   "AddedIPv4",
	AddressRemovedIPv4: "RemovedIPv4",
	AddressAddedIPv6:   "AddedIPv6",
	AddressRemovedIPv6: "RemovedIPv6",
}

// String implements [fmt.Stringer].
func (e AddressEvent) String() string {
	return codeName("AddressEvent", addressEventNames, e)
}

// codeName returns the name of code or a numeric fallback.
func codeName[T ~int16](kind string, names map[T]string, code T) string {
	if name, found := names[code]; found {
		return name
	}
	return fmt.Sprintf("%s(%d)", kind, int16(code))
}

// Status is the configuration status of a virtual network.
type Status int

// Network configuration statuses.
const (
	StatusRequestingConfiguration = Status(vstack.NetworkStatusRequestingConfiguration)
	StatusOK                      = Status(vstack.NetworkStatusOK)
	StatusAccessDenied            = Status(vstack.NetworkStatusAccessDenied)
	StatusNotFound                = Status(vstack.NetworkStatusNotFound)
	StatusPortError               = Status(vstack.NetworkStatusPortError)
	StatusClientTooOld            = Status(vstack.NetworkStatusClientTooOld)

	// StatusUnknown is returned for values outside the known set.
	StatusUnknown = Status(-1)
)

var statusNames = map[Status]string{
	StatusRequestingConfiguration: "RequestingConfiguration",
	StatusOK:                      "OK",
	StatusAccessDenied:            "AccessDenied",
	StatusNotFound:                "NotFound",
	StatusPortError:               "PortError",
	StatusClientTooOld:            "ClientTooOld",
}

// String implements [fmt.Stringer].
func (s Status) String() string {
	if name, found := statusNames[s]; found {
		return name
	}
	return "Unknown"
}

// NetworkType is the access control model of a virtual network.
type NetworkType int

// Network types.
const (
	// NetworkTypePrivate networks admit authorized members only.
	NetworkTypePrivate = NetworkType(vstack.NetworkTypePrivate)

	// NetworkTypePublic networks admit everyone.
	NetworkTypePublic = NetworkType(vstack.NetworkTypePublic)

	// NetworkTypeUnknown is returned for values outside the known set.
	NetworkTypeUnknown = NetworkType(-1)
)

// String implements [fmt.Stringer].
func (t NetworkType) String() string {
	switch t {
	case NetworkTypePrivate:
		return "Private"
	case NetworkTypePublic:
		return "Public"
	default:
		return "Unknown"
	}
}

// PeerRole is the trust hierarchy role of a peer.
type PeerRole int

// Peer roles.
const (
	PeerRoleLeaf    = PeerRole(vstack.PeerRoleLeaf)
	PeerRoleMoon    = PeerRole(vstack.PeerRoleMoon)
	PeerRolePlanet  = PeerRole(vstack.PeerRolePlanet)
	PeerRoleUnknown = PeerRole(-1)
)

// String implements [fmt.Stringer].
func (r PeerRole) String() string {
	switch r {
	case PeerRoleLeaf:
		return "Leaf"
	case PeerRoleMoon:
		return "Moon"
	case PeerRolePlanet:
		return "Planet"
	default:
		return "Unknown"
	}
}
