// SPDX-License-Identifier: GPL-3.0-or-later

package service_test

import (
	"sync"
	"testing"

	"github.com/rbmk-project/vsock/events"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testNetwork is the network ID used by the tests.
const testNetwork = 0x8056c2e21c000001

// nodeRecorder records the node and network events.
type nodeRecorder struct {
	events.NopHandler
	mu       sync.Mutex
	nodes    []events.NodeEvent
	networks []events.NetworkEvent
	nodeID   uint64
}

func (r *nodeRecorder) OnNodeEvent(code events.NodeEvent, details *events.NodeDetails) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = append(r.nodes, code)
	if details != nil {
		r.nodeID = details.NodeID()
	}
}

func (r *nodeRecorder) OnNetworkEvent(code events.NetworkEvent, details *events.NetworkDetails) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.networks = append(r.networks, code)
}

// nodeEvents returns a copy of the recorded node events.
func (r *nodeRecorder) nodeEvents() []events.NodeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.NodeEvent{}, r.nodes...)
}

// networkEvents returns a copy of the recorded network events.
func (r *nodeRecorder) networkEvents() []events.NetworkEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.NetworkEvent{}, r.networks...)
}
