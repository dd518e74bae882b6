// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package vstack is a userspace TCP/UDP stack attached to an in-process
overlay.

A [*Node] exposes socket-like primitives using integer descriptors.
Each call returns a small integer, which is negative on failure (see
[ErrSocket] and friends), together with a [syscall.Errno] providing
finer detail. Callers translate these codes into richer errors.

A node is started with [*Node.Start], which is asynchronous: progress
is reported through the event callback, which receives [*EventMessage]
values on a goroutine owned by the node. Once started, a node joins
overlay networks using [*Node.Join]. Nodes sharing a [*Fabric] that
joined the same network can exchange packets. Loopback addresses are
always reachable while the node runs.

The stack implements a minimal TCP: a SYN/SYN|ACK handshake, ordered
in-memory delivery, FIN and RST. There is no retransmission and no
congestion control because the fabric never loses a packet unless an
input buffer is full. Raw sockets are not supported.
*/
package vstack
