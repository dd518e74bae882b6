// SPDX-License-Identifier: GPL-3.0-or-later

// Package router forwards packets between the devices attached to an overlay.
package router

import (
	"errors"
	"log/slog"
	"net/netip"
	"sync"

	"github.com/rbmk-project/vsock/vstack/packet"
)

// Router provides static routing between attached devices.
//
// The zero value is not ready to use; construct using [New].
type Router struct {
	// Logger is the optional logger for dropped packets.
	Logger *slog.Logger

	// mu protects devs and srt.
	mu sync.RWMutex

	// devs tracks attached [packet.NetworkDevice].
	devs map[packet.NetworkDevice]struct{}

	// srt is the static routing table.
	srt map[netip.Addr]packet.NetworkDevice
}

// New creates a new [*Router].
func New() *Router {
	return &Router{
		devs: make(map[packet.NetworkDevice]struct{}),
		srt:  make(map[netip.Addr]packet.NetworkDevice),
	}
}

// Attach attaches a [packet.NetworkDevice] to the [*Router] and starts
// forwarding its output. Forwarding stops when the device EOF channel
// is closed or when the device is detached.
func (r *Router) Attach(dev packet.NetworkDevice) {
	r.mu.Lock()
	r.devs[dev] = struct{}{}
	r.mu.Unlock()
	go r.readLoop(dev)
}

// Detach removes the device and all the routes pointing to it.
func (r *Router) Detach(dev packet.NetworkDevice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devs, dev)
	for addr, nextHop := range r.srt {
		if nextHop == dev {
			delete(r.srt, addr)
		}
	}
}

// AddRoute adds routes for all addresses of the given [packet.NetworkDevice].
func (r *Router) AddRoute(dev packet.NetworkDevice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, addr := range dev.Addresses() {
		r.srt[addr] = dev
	}
}

// RemoveRoute removes the routes for the given addresses.
func (r *Router) RemoveRoute(addrs ...netip.Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, addr := range addrs {
		delete(r.srt, addr)
	}
}

// Lookup returns the device owning addr, if any.
func (r *Router) Lookup(addr netip.Addr) (packet.NetworkDevice, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.srt[addr]
	return dev, ok
}

// attached returns whether dev is still attached.
func (r *Router) attached(dev packet.NetworkDevice) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.devs[dev]
	return ok
}

// readLoop reads packets from a [packet.NetworkDevice] until EOF.
func (r *Router) readLoop(dev packet.NetworkDevice) {
	for {
		select {
		case <-dev.EOF():
			return
		case pkt := <-dev.Output():
			if !r.attached(dev) {
				return
			}
			if err := r.Route(pkt); err != nil && r.Logger != nil {
				r.Logger.Debug("routeDrop", slog.String("packet", pkt.String()), slog.Any("err", err))
			}
		}
	}
}

var (
	// ErrTTLExceeded is returned when a packet's TTL is exceeded.
	ErrTTLExceeded = errors.New("TTL exceeded in transit")

	// ErrNoRouteToHost is returned when there is no route to the host.
	ErrNoRouteToHost = errors.New("no route to host")

	// ErrBufferFull is returned when the next hop input buffer is full.
	ErrBufferFull = errors.New("buffer full")
)

// Route routes a given packet to its destination.
//
// Forwarding never blocks: when the next hop cannot accept
// the packet immediately, the packet is dropped.
func (r *Router) Route(pkt *packet.Packet) error {
	// Decrement TTL.
	if pkt.TTL <= 0 {
		return ErrTTLExceeded
	}
	pkt.TTL--

	// Find next hop.
	nextHop, found := r.Lookup(pkt.DstAddr)
	if !found {
		return ErrNoRouteToHost
	}

	// Forward packet (non-blocking)
	select {
	case nextHop.Input() <- pkt:
		return nil
	default:
		return ErrBufferFull
	}
}
