//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Node lifecycle and network membership.
//

package vstack

import (
	"errors"
	"log/slog"
	"net/netip"
	"slices"
	"time"

	"github.com/rbmk-project/common/errclass"
	"github.com/rbmk-project/common/runtimex"
	"go4.org/netipx"
)

// DefaultPort is the primary port used when Start receives zero.
const DefaultPort = 9993

// DefaultMTU is the default interface MTU.
const DefaultMTU = 2800

// ID returns the node identity, or zero before the first Start.
func (n *Node) ID() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.id
}

// Assigned returns the addresses assigned in the network nwid,
// with their prefix length, or nil if the network is not joined.
func (n *Node) Assigned(nwid uint64) []netip.Prefix {
	n.mu.Lock()
	defer n.mu.Unlock()
	if m, found := n.networks[nwid]; found {
		return m.prefixes()
	}
	return nil
}

// Start starts the node in the background. The callback receives
// the events on a goroutine owned by the node and must not call Stop,
// Restart or Free. When local storage is allowed and path is not
// empty, the identity and the caches live in a database under path.
// A zero port selects [DefaultPort].
func (n *Node) Start(path string, callback func(*EventMessage), port uint16) int {
	t0 := time.Now()
	n.logger().Info("nodeStartStart", slog.String("path", path), slog.Int("port", int(port)))
	rc, err := n.start(path, callback, port)
	n.logger().Info(
		"nodeStartDone",
		slog.Any("err", err),
		slog.String("errClass", errclass.New(err)),
		slog.Int("rc", rc),
		slog.Time("t0", t0),
		slog.Time("t", time.Now()),
	)
	return rc
}

// errNotStopped is returned when starting a node that is not stopped.
var errNotStopped = errors.New("node is not stopped")

// start implements Start.
func (n *Node) start(path string, callback func(*EventMessage), port uint16) (int, error) {
	// The callback may call into the node, so a failed session
	// must be shut down after releasing mu.
	var failed *session
	defer func() {
		if failed != nil {
			runtimex.Try0(failed.shutdown())
		}
	}()
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != nodeStopped {
		return ErrService, errNotStopped
	}
	if port == 0 {
		port = DefaultPort
	}
	n.path, n.callback, n.primaryPort = path, callback, port

	info := &NodeInfo{
		PrimaryPort: port,
		VerMajor:    VersionMajor,
		VerMinor:    VersionMinor,
		VerRev:      VersionRevision,
	}
	if n.opts.localConf && path != "" {
		conf, err := loadLocalConf(path)
		if err != nil {
			return ErrGeneral, err
		}
		if conf.Settings.PrimaryPort != 0 {
			info.PrimaryPort = conf.Settings.PrimaryPort
		}
		info.SecondaryPort = conf.Settings.SecondaryPort
		info.TertiaryPort = conf.Settings.TertiaryPort
		if conf.Settings.MTU > 0 {
			n.mtu = conf.Settings.MTU
		}
	}
	if err := n.openStorageLocked(); err != nil {
		return ErrGeneral, err
	}
	info.NodeID = n.id
	n.info.Store(info)

	sess := newSession(n, callback)
	if err := n.fabric.attach(n, sess); err != nil {
		sess.emit(&EventMessage{Code: EventNodeIdentityCollision, Node: info})
		failed = sess
		n.closeStorage()
		return ErrService, err
	}
	n.sess = sess
	n.state = nodeRunning
	n.publishLocked()
	sess.emit(&EventMessage{Code: EventNodeUp, Node: info})
	sess.emit(&EventMessage{Code: EventStackUp})
	sess.emit(&EventMessage{Code: EventNodeOnline, Node: info})

	if n.opts.networkCaching {
		cached, err := n.cachedNetworks()
		if err != nil {
			n.logger().Warn("networkCache", slog.Any("err", err))
		}
		for _, nwid := range cached {
			n.joinLocked(nwid)
		}
	}
	return ErrOK, nil
}

// Stop stops the node. Joined networks are left without being
// removed from the cache, so that the next Start joins them again.
// Descriptors stay allocated but every call on them fails until
// they are closed. Stop waits for the queued events to be delivered.
func (n *Node) Stop() int {
	n.mu.Lock()
	if n.state != nodeRunning {
		n.mu.Unlock()
		return ErrService
	}
	sess := n.sess
	for _, nwid := range n.joinedLocked() {
		n.leaveLocked(nwid, false)
	}
	info := n.info.Load()
	sess.emit(&EventMessage{Code: EventNodeOffline, Node: info})
	sess.emit(&EventMessage{Code: EventStackDown})
	sess.emit(&EventMessage{Code: EventNodeDown, Node: info})
	n.fabric.detach(n, sess)
	n.sess = nil
	n.state = nodeStopped
	n.routing.Store(nil)
	if err := n.closeStorage(); err != nil {
		n.logger().Warn("closeStorage", slog.Any("err", err))
	}
	n.mu.Unlock()

	n.portmu.Lock()
	n.fds.Range(func(_ int, p *port) bool {
		p.down = true
		return true
	})
	for _, p := range n.ports {
		p.down = true
		p.registered = false
	}
	clear(n.ports)
	n.broadcastLocked()
	n.portmu.Unlock()

	runtimex.Try0(sess.shutdown())
	return ErrOK
}

// Restart stops and starts the node using the arguments
// of the previous Start.
func (n *Node) Restart() int {
	if rc := n.Stop(); rc != ErrOK {
		return rc
	}
	n.mu.Lock()
	path, callback, port := n.path, n.callback, n.primaryPort
	n.mu.Unlock()
	return n.Start(path, callback, port)
}

// Free stops the node if needed, closes every descriptor and
// makes the node unusable.
func (n *Node) Free() int {
	n.mu.Lock()
	state := n.state
	n.mu.Unlock()
	switch state {
	case nodeFreed:
		return ErrService
	case nodeRunning:
		n.Stop()
	}

	n.mu.Lock()
	n.state = nodeFreed
	n.mu.Unlock()

	var fds []int
	n.fds.Range(func(fd int, _ *port) bool {
		fds = append(fds, fd)
		return true
	})
	for _, fd := range fds {
		n.Close(fd)
	}
	return ErrOK
}

// Join joins the network nwid. Joining progress is reported
// through the event callback.
func (n *Node) Join(nwid uint64) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch {
	case n.state != nodeRunning:
		return ErrService
	case nwid == 0:
		return ErrArg
	}
	if _, found := n.networks[nwid]; !found {
		n.joinLocked(nwid)
	}
	return ErrOK
}

// Leave leaves the network nwid and removes it from the cache.
func (n *Node) Leave(nwid uint64) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != nodeRunning {
		return ErrService
	}
	if _, found := n.networks[nwid]; !found {
		return ErrArg
	}
	n.leaveLocked(nwid, true)
	return ErrOK
}

// SetLocalStorage allows or forbids storing state under the
// path passed to Start. It fails while the node runs.
func (n *Node) SetLocalStorage(allowed bool) int {
	return n.setOption(func(opts *options) { opts.localStorage = allowed })
}

// SetNetworkCaching allows or forbids caching joined networks.
// It fails while the node runs.
func (n *Node) SetNetworkCaching(allowed bool) int {
	return n.setOption(func(opts *options) { opts.networkCaching = allowed })
}

// SetPeerCaching allows or forbids caching known peers.
// It fails while the node runs.
func (n *Node) SetPeerCaching(allowed bool) int {
	return n.setOption(func(*options) { n.peerCaching.Store(allowed) })
}

// SetLocalConf allows or forbids reading the local.conf file
// inside the path passed to Start. It fails while the node runs.
func (n *Node) SetLocalConf(allowed bool) int {
	return n.setOption(func(opts *options) { opts.localConf = allowed })
}

// setOption applies fn when the node is stopped.
func (n *Node) setOption(fn func(opts *options)) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != nodeStopped {
		return ErrService
	}
	fn(&n.opts)
	return ErrOK
}

// joinedLocked returns the sorted IDs of the joined networks.
//
// The caller must hold mu.
func (n *Node) joinedLocked() []uint64 {
	ids := make([]uint64, 0, len(n.networks))
	for nwid := range n.networks {
		ids = append(ids, nwid)
	}
	slices.Sort(ids)
	return ids
}

// joinLocked joins a network and emits the related events.
//
// The caller must hold mu and the node must be running.
func (n *Node) joinLocked(nwid uint64) {
	sess := n.sess
	pending := &membership{nwid: nwid, mtu: n.mtu}
	sess.emit(&EventMessage{
		Code:    EventNetworkReqConfig,
		Network: pending.networkInfo(NetworkStatusRequestingConfiguration),
	})

	m, err := n.fabric.join(n, sess, nwid)
	switch {
	case errors.Is(err, errAccessDenied):
		sess.emit(&EventMessage{
			Code:    EventNetworkAccessDenied,
			Network: pending.networkInfo(NetworkStatusAccessDenied),
		})
		return
	case err != nil:
		info := pending.networkInfo(NetworkStatusPortError)
		info.PortError = ErrGeneral
		sess.emit(&EventMessage{Code: EventNetworkDown, Network: info})
		return
	}

	n.networks[nwid] = m
	n.publishLocked()
	sess.emit(&EventMessage{Code: EventNetworkOK, Network: m.networkInfo(NetworkStatusOK)})
	sess.emit(&EventMessage{Code: EventNetifUp, Netif: m.netifInfo()})
	sess.emit(&EventMessage{Code: EventAddrAddedIP4, Addr: &AddrInfo{NetID: nwid, Addr: m.addr4.Addr()}})
	sess.emit(&EventMessage{Code: EventAddrAddedIP6, Addr: &AddrInfo{NetID: nwid, Addr: m.addr6.Addr()}})
	for _, route := range m.routes() {
		sess.emit(&EventMessage{Code: EventRouteAdded, Route: &route})
	}
	sess.emit(&EventMessage{Code: EventNetworkReadyIP4IP6, Network: m.networkInfo(NetworkStatusOK)})
	n.fabric.announce(n, sess, nwid)

	if err := n.cacheNetworkLocked(m); err != nil {
		n.logger().Warn("networkCache", slog.Any("err", err))
	}
}

// leaveLocked leaves a network and emits the related events.
//
// The caller must hold mu and the node must be running.
func (n *Node) leaveLocked(nwid uint64, forget bool) {
	m := n.networks[nwid]
	sess := n.sess
	delete(n.networks, nwid)
	n.publishLocked()
	n.fabric.leave(n, sess, m)

	sess.emit(&EventMessage{Code: EventNetifDown, Netif: m.netifInfo()})
	sess.emit(&EventMessage{Code: EventAddrRemovedIP4, Addr: &AddrInfo{NetID: nwid, Addr: m.addr4.Addr()}})
	sess.emit(&EventMessage{Code: EventAddrRemovedIP6, Addr: &AddrInfo{NetID: nwid, Addr: m.addr6.Addr()}})
	for _, route := range m.routes() {
		sess.emit(&EventMessage{Code: EventRouteRemoved, Route: &route})
	}
	sess.emit(&EventMessage{Code: EventNetifRemoved, Netif: m.netifInfo()})
	sess.emit(&EventMessage{Code: EventNetworkDown, Network: m.networkInfo(NetworkStatusOK)})

	if forget {
		if err := n.forgetNetwork(nwid); err != nil {
			n.logger().Warn("networkCache", slog.Any("err", err))
		}
	}
}

// publishLocked publishes a new addressing snapshot.
//
// The caller must hold mu.
func (n *Node) publishLocked() {
	rt := &routing{sess: n.sess, local: map[netip.Addr]struct{}{}}
	var builder netipx.IPSetBuilder
	for _, nwid := range n.joinedLocked() {
		for _, prefix := range n.networks[nwid].prefixes() {
			rt.assigned = append(rt.assigned, prefix)
			rt.local[prefix.Addr()] = struct{}{}
			builder.AddPrefix(prefix.Masked())
		}
	}
	rt.routes = runtimex.Try1(builder.IPSet())
	n.routing.Store(rt)
}

// peerInfo returns the payload describing this node as a peer.
func (n *Node) peerInfo() *PeerInfo {
	info := n.info.Load()
	if info == nil {
		return nil
	}
	return &PeerInfo{
		Address:  info.NodeID,
		VerMajor: int(info.VerMajor),
		VerMinor: int(info.VerMinor),
		VerRev:   int(info.VerRev),
		Role:     PeerRoleLeaf,
		Paths:    []netip.AddrPort{netip.AddrPortFrom(netip.IPv6Loopback(), info.PrimaryPort)},
	}
}
