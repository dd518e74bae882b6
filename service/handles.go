// SPDX-License-Identifier: GPL-3.0-or-later

package service

import (
	"errors"
	"slices"
	"sync"

	"github.com/rbmk-project/vsock/socket"
)

// handlePool tracks a set of [*socket.Handle] and closes
// them in a single operation.
//
// The zero value is ready to use.
type handlePool struct {
	// handles contains the handles to close.
	handles []*socket.Handle

	// mu provides mutual exclusion.
	mu sync.Mutex
}

// Add adds a given [*socket.Handle] to the pool and drops
// the handles that were closed since they were added.
func (p *handlePool) Add(h *socket.Handle) {
	p.mu.Lock()
	p.handles = slices.DeleteFunc(p.handles, (*socket.Handle).IsClosed)
	p.handles = append(p.handles, h)
	p.mu.Unlock()
}

// Len returns the number of tracked handles.
func (p *handlePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

// Close closes all the handles inside the pool iterating in backward
// order, so the most recently added handle is closed first. The
// returned error is the join of the failure reports.
func (p *handlePool) Close() error {
	p.mu.Lock()
	handles := p.handles
	p.handles = nil
	p.mu.Unlock()

	var errv []error
	for _, h := range slices.Backward(handles) {
		if r := h.Close(); r.HasError() {
			errv = append(errv, r.Report())
		}
	}
	return errors.Join(errv...)
}
