//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Running session of a node.
//

package vstack

import (
	"net/netip"
	"slices"
	"sync"

	"github.com/rbmk-project/vsock/vstack/packet"
	"golang.org/x/sync/errgroup"
)

// session is the per-Start state of a running [*Node]. It is the
// [packet.NetworkDevice] that the [*Fabric] attaches to its router.
type session struct {
	// node is the owning node.
	node *Node

	// eof unblocks the session goroutines.
	eof chan struct{}

	// eofOnce ensures we close just once.
	eofOnce sync.Once

	// input receives packets from the fabric.
	input chan *packet.Packet

	// output carries packets to the fabric.
	output chan *packet.Packet

	// evmu protects evq and evclosed.
	evmu sync.Mutex

	// evq is the queue of undelivered events.
	evq []*EventMessage

	// evclosed is true once no more events are accepted.
	evclosed bool

	// evsignal wakes up the event loop.
	evsignal chan struct{}

	// group tracks the session goroutines.
	group errgroup.Group
}

// Ensure [*session] implements [packet.NetworkDevice].
var _ packet.NetworkDevice = &session{}

// newSession creates a [*session] and starts its goroutines.
func newSession(node *Node, callback func(*EventMessage)) *session {
	s := &session{
		node:     node,
		eof:      make(chan struct{}),
		input:    make(chan *packet.Packet, deviceQueueSize),
		output:   make(chan *packet.Packet, deviceQueueSize),
		evsignal: make(chan struct{}, 1),
	}
	s.group.Go(s.demuxLoop)
	s.group.Go(func() error { return s.eventLoop(callback) })
	return s
}

// Addresses implements [packet.NetworkDevice].
func (s *session) Addresses() []netip.Addr {
	rt := s.node.routing.Load()
	if rt == nil {
		return nil
	}
	addrs := make([]netip.Addr, 0, len(rt.assigned))
	for _, prefix := range rt.assigned {
		addrs = append(addrs, prefix.Addr())
	}
	slices.SortFunc(addrs, netip.Addr.Compare)
	return addrs
}

// EOF implements [packet.NetworkDevice].
func (s *session) EOF() <-chan struct{} {
	return s.eof
}

// Input implements [packet.NetworkDevice].
func (s *session) Input() chan<- *packet.Packet {
	return s.input
}

// Output implements [packet.NetworkDevice].
func (s *session) Output() <-chan *packet.Packet {
	return s.output
}

// demuxLoop demuxes incoming traffic to the proper port.
func (s *session) demuxLoop() error {
	for {
		select {
		case <-s.eof:
			return nil
		case pkt := <-s.input:
			s.node.demux(pkt)
		}
	}
}

// emit queues an event for delivery. It never blocks and it
// drops the event once the session is shutting down.
func (s *session) emit(msg *EventMessage) {
	s.evmu.Lock()
	if s.evclosed {
		s.evmu.Unlock()
		return
	}
	s.evq = append(s.evq, msg)
	s.evmu.Unlock()
	s.wakeup()
}

// wakeup signals the event loop without blocking.
func (s *session) wakeup() {
	select {
	case s.evsignal <- struct{}{}:
	default:
	}
}

// eventLoop delivers the queued events in order until the
// queue is closed and drained.
func (s *session) eventLoop(callback func(*EventMessage)) error {
	for {
		s.evmu.Lock()
		queue, closed := s.evq, s.evclosed
		s.evq = nil
		s.evmu.Unlock()

		for _, msg := range queue {
			if callback != nil {
				callback(msg)
			}
		}
		if len(queue) <= 0 {
			if closed {
				return nil
			}
			<-s.evsignal
		}
	}
}

// shutdown stops accepting events, stops the goroutines and
// waits for the already queued events to be delivered.
func (s *session) shutdown() error {
	s.evmu.Lock()
	s.evclosed = true
	s.evmu.Unlock()
	s.wakeup()
	s.eofOnce.Do(func() { close(s.eof) })
	return s.group.Wait()
}
