//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Event demultiplexing.
//

package events

import (
	"sync"
	"sync/atomic"

	"github.com/rbmk-project/vsock/vstack"
)

// Dispatcher delivers [*vstack.EventMessage] values to at most
// one registered [Handler].
//
// Deliveries are serialized. A handler may read or replace the
// registration from within its own methods; the replacement takes
// effect starting from the next delivery.
//
// The zero value is ready to use and has no handler.
type Dispatcher struct {
	// slot contains the registered handler.
	slot atomic.Pointer[handlerSlot]

	// mu serializes deliveries.
	mu sync.Mutex
}

// handlerSlot boxes a [Handler] for atomic storage.
type handlerSlot struct {
	handler Handler
}

// SetHandler registers handler, replacing the previous one.
// A nil handler clears the registration.
func (d *Dispatcher) SetHandler(handler Handler) {
	if handler == nil {
		d.slot.Store(nil)
		return
	}
	d.slot.Store(&handlerSlot{handler})
}

// Handler returns the registered handler or nil.
func (d *Dispatcher) Handler() Handler {
	if slot := d.slot.Load(); slot != nil {
		return slot.handler
	}
	return nil
}

// Callback returns d.Dispatch as a node event callback.
func (d *Dispatcher) Callback() func(*vstack.EventMessage) {
	return d.Dispatch
}

// Dispatch delivers msg to the registered handler. It does nothing
// when msg is nil or when no handler is registered.
//
// Calling Dispatch from within a handler method deadlocks.
func (d *Dispatcher) Dispatch(msg *vstack.EventMessage) {
	if msg == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	handler := d.Handler()
	if handler == nil {
		return
	}

	code := msg.Code
	switch {
	case code >= vstack.EventNodeUp && code <= vstack.EventNodeNormalTermination:
		var details *NodeDetails
		if msg.Node != nil {
			details = &NodeDetails{msg.Node}
		}
		handler.OnNodeEvent(NodeEvent(code), details)

	case code >= vstack.EventNetworkNotFound && code <= vstack.EventNetworkUpdate:
		var details *NetworkDetails
		if msg.Network != nil {
			details = &NetworkDetails{msg.Network}
		}
		handler.OnNetworkEvent(NetworkEvent(code), details)

	case code >= vstack.EventStackUp && code <= vstack.EventStackDown:
		var details *NetworkStackDetails
		if msg.Netif != nil {
			details = &NetworkStackDetails{NetworkInterfaceDetails{msg.Netif}}
		}
		handler.OnNetworkStackEvent(NetworkStackEvent(code), details)

	case code >= vstack.EventNetifUp && code <= vstack.EventNetifLinkDown:
		var details *NetworkInterfaceDetails
		if msg.Netif != nil {
			details = &NetworkInterfaceDetails{msg.Netif}
		}
		handler.OnNetworkInterfaceEvent(NetworkInterfaceEvent(code), details)

	case code >= vstack.EventPeerDirect && code <= vstack.EventPeerPathDead:
		var details *PeerDetails
		if msg.Peer != nil {
			details = &PeerDetails{msg.Peer}
		}
		handler.OnPeerEvent(PeerEvent(code), details)

	case code >= vstack.EventRouteAdded && code <= vstack.EventRouteRemoved:
		var details *RouteDetails
		if msg.Route != nil {
			details = &RouteDetails{msg.Route}
		}
		handler.OnRouteEvent(RouteEvent(code), details)

	case code >= vstack.EventAddrAddedIP4 && code <= vstack.EventAddrRemovedIP6:
		var details *AddressDetails
		if msg.Addr != nil {
			details = &AddressDetails{msg.Addr}
		}
		handler.OnAddressEvent(AddressEvent(code), details)

	default:
		handler.OnUnknownEvent(code)
	}
}

// Default is the process-wide [*Dispatcher].
var Default = &Dispatcher{}

// SetHandler registers handler with the [Default] dispatcher.
func SetHandler(handler Handler) {
	Default.SetHandler(handler)
}

// GetHandler returns the handler registered with the [Default] dispatcher.
func GetHandler() Handler {
	return Default.Handler()
}

// Callback delivers msg using the [Default] dispatcher. Pass it
// to [*vstack.Node.Start] as the event callback.
func Callback(msg *vstack.EventMessage) {
	Default.Dispatch(msg)
}
