//go:build windows

//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Windows errno definitions.
//

package vstack

import (
	"syscall"

	"golang.org/x/sys/windows"
)

const (
	// EADDRNOTAVAIL is the address not available error.
	EADDRNOTAVAIL = windows.WSAEADDRNOTAVAIL

	// EADDRINUSE is the address in use error.
	EADDRINUSE = windows.WSAEADDRINUSE

	// EAFNOSUPPORT is the address family not supported error.
	EAFNOSUPPORT = syscall.Errno(10047)

	// EAGAIN is the resource temporarily unavailable error.
	EAGAIN = syscall.Errno(10035)

	// EBADF is the bad file descriptor error.
	EBADF = syscall.Errno(10009)

	// ECONNABORTED is the connection aborted error.
	ECONNABORTED = windows.WSAECONNABORTED

	// ECONNREFUSED is the connection refused error.
	ECONNREFUSED = windows.WSAECONNREFUSED

	// ECONNRESET is the connection reset by peer error.
	ECONNRESET = windows.WSAECONNRESET

	// EDESTADDRREQ is the destination address required error.
	EDESTADDRREQ = syscall.Errno(10039)

	// EHOSTUNREACH is the host unreachable error.
	EHOSTUNREACH = windows.WSAEHOSTUNREACH

	// EINVAL is the invalid argument error.
	EINVAL = windows.WSAEINVAL

	// EISCONN is the socket already connected error.
	EISCONN = syscall.Errno(10056)

	// EMSGSIZE is the message too long error.
	EMSGSIZE = syscall.Errno(10040)

	// ENETDOWN is the network is down error.
	ENETDOWN = windows.WSAENETDOWN

	// ENOBUFS is the no buffer space available error.
	ENOBUFS = windows.WSAENOBUFS

	// ENOTCONN is the not connected error.
	ENOTCONN = windows.WSAENOTCONN

	// EOPNOTSUPP is the operation not supported error.
	EOPNOTSUPP = syscall.Errno(10045)

	// EPROTONOSUPPORT is the protocol not supported error.
	EPROTONOSUPPORT = windows.WSAEPROTONOSUPPORT

	// ETIMEDOUT is the connection timed out error.
	ETIMEDOUT = syscall.Errno(10060)

	// EWOULDBLOCK is the operation would block error.
	EWOULDBLOCK = syscall.Errno(10035)
)
