//go:build unix

//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// UNIX errno definitions.
//

package vstack

import "golang.org/x/sys/unix"

const (
	// EADDRNOTAVAIL is the address not available error.
	EADDRNOTAVAIL = unix.EADDRNOTAVAIL

	// EADDRINUSE is the address in use error.
	EADDRINUSE = unix.EADDRINUSE

	// EAFNOSUPPORT is the address family not supported error.
	EAFNOSUPPORT = unix.EAFNOSUPPORT

	// EAGAIN is the resource temporarily unavailable error.
	EAGAIN = unix.EAGAIN

	// EBADF is the bad file descriptor error.
	EBADF = unix.EBADF

	// ECONNABORTED is the connection aborted error.
	ECONNABORTED = unix.ECONNABORTED

	// ECONNREFUSED is the connection refused error.
	ECONNREFUSED = unix.ECONNREFUSED

	// ECONNRESET is the connection reset by peer error.
	ECONNRESET = unix.ECONNRESET

	// EDESTADDRREQ is the destination address required error.
	EDESTADDRREQ = unix.EDESTADDRREQ

	// EHOSTUNREACH is the host unreachable error.
	EHOSTUNREACH = unix.EHOSTUNREACH

	// EINVAL is the invalid argument error.
	EINVAL = unix.EINVAL

	// EISCONN is the socket already connected error.
	EISCONN = unix.EISCONN

	// EMSGSIZE is the message too long error.
	EMSGSIZE = unix.EMSGSIZE

	// ENETDOWN is the network is down error.
	ENETDOWN = unix.ENETDOWN

	// ENOBUFS is the no buffer space available error.
	ENOBUFS = unix.ENOBUFS

	// ENOTCONN is the not connected error.
	ENOTCONN = unix.ENOTCONN

	// EOPNOTSUPP is the operation not supported error.
	EOPNOTSUPP = unix.EOPNOTSUPP

	// EPROTONOSUPPORT is the protocol not supported error.
	EPROTONOSUPPORT = unix.EPROTONOSUPPORT

	// ETIMEDOUT is the connection timed out error.
	ETIMEDOUT = unix.ETIMEDOUT

	// EWOULDBLOCK is the operation would block error.
	EWOULDBLOCK = unix.EWOULDBLOCK
)
